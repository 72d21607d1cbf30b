package types

// Account is a ledger entry holding the native balance for an address.
// Balances are denominated in lamports, the smallest currency unit.
type Account struct {
	Nonce   uint64 `json:"nonce"`
	Balance uint64 `json:"balance"`
}
