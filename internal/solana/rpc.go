package solana

import "context"

// RPCClient defines the Solana RPC HTTP calls the service uses.
type RPCClient interface {
	// GetAccountInfo retrieves account data. Returns nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)
}
