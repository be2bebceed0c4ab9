/*

This is a custom type for tokens which carries the state needed to price and
convert amounts at the strategy boundary.

*/

package types

// Token identifies an asset handled by the strategy.
type Token struct {
	Symbol   string `json:"symbol"`   // e.g., "WAVAX"
	Address  string `json:"address"`  // e.g., "0xB31f...federated handle for the asset
	Decimals int    `json:"decimals"` // e.g., 6 for USDC, 18 for most others
}
