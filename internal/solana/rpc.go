// Package solana provides the on-chain balance reader used by the
// reconciliation engine.
package solana

import "context"

// SPL token program IDs. Wallets may hold accounts under either variant,
// so balance reads always query both.
const (
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

// BalanceReader reports the token holdings of a wallet.
type BalanceReader interface {
	// GetTokenBalances returns the aggregate balance per mint for a wallet,
	// across both token program variants. One batched RPC call per program,
	// never one call per position.
	GetTokenBalances(ctx context.Context, owner string) (map[string]uint64, error)
}

// TokenBalance is one (mint, balance) pair held by a wallet.
type TokenBalance struct {
	Mint         string
	RawAmount    uint64
	UIAmount     float64
	ProgramID    string
	TokenAccount string
}
