package faucet

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestUnavailable(t *testing.T) {
	refused := errors.New("node error -32000: busy")
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"untagged", refused, "ledger unavailable: chain height: node error -32000: busy"},
		{"already tagged", fmt.Errorf("%w: conn refused", ErrLedgerUnavailable), "chain height: ledger unavailable: conn refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := unavailable("chain height", tt.err)
			if !errors.Is(err, ErrLedgerUnavailable) {
				t.Errorf("not ErrLedgerUnavailable: %v", err)
			}
			if err.Error() != tt.want {
				t.Errorf("err = %q, want %q", err, tt.want)
			}
			if n := strings.Count(err.Error(), "ledger unavailable"); n != 1 {
				t.Errorf("sentinel text appears %d times", n)
			}
		})
	}
}
