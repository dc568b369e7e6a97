/*

This is a custom type for tokens which contains all the state needed for valuing
position sides and sizing swaps.

*/

package types

type Token struct {
	Address   string `json:"address"`   // fully qualified coin type, e.g. "0x1::aptos_coin::AptosCoin"
	Symbol    string `json:"symbol"`    // e.g., "APT"
	Precision int    `json:"precision"` // decimal precision, e.g. 8 means 1e8 raw units = 1 token
	IsNative  bool   `json:"is_native"` // true for the network's gas token
}

// Equal reports whether two tokens refer to the same on-chain coin type.
func (t Token) Equal(other Token) bool {
	return t.Address == other.Address
}
