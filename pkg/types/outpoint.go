package types

import "fmt"

// Outpoint names one output of a confirmed or pending transaction.
type Outpoint struct {
	TxID  Hash   `json:"txid"`
	Index uint32 `json:"index"`
}

// IsZero reports an unset outpoint. No real output has an all-zero txid.
func (o Outpoint) IsZero() bool {
	return o.TxID.IsZero() && o.Index == 0
}

// String formats the outpoint as "txid:index".
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Index)
}

// CheckSpend reports the first outpoint in ops that is unset or listed twice.
// A transaction carrying either is rejected by the node.
func CheckSpend(ops []Outpoint) error {
	seen := make(map[Outpoint]struct{}, len(ops))
	for i, o := range ops {
		if o.IsZero() {
			return fmt.Errorf("input %d has no outpoint", i)
		}
		if _, dup := seen[o]; dup {
			return fmt.Errorf("input %d spends %s twice", i, o)
		}
		seen[o] = struct{}{}
	}
	return nil
}
