package types

// TokenData holds token information attached to a UTXO.
type TokenData struct {
	ID     TokenID `json:"id"`
	Amount uint64  `json:"amount"`
}

// IsBaton reports whether the token data is a single unit of group id,
// the authorization to mint one child token of that group.
func (td *TokenData) IsBaton(group TokenID) bool {
	return td != nil && td.ID == group && td.Amount == 1
}
