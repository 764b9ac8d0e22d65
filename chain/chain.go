package chain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Error categories surfaced by the external value-transfer ledger. Unavailable,
// insufficient-funds and rejected transfers are retried by settlement
// rediscovery; a malformed address is not.
var (
	ErrLedgerUnavailable = errors.New("chain: ledger unavailable")
	ErrInvalidAddress    = errors.New("chain: invalid address")
	ErrInsufficientFunds = errors.New("chain: insufficient escrow funds")
	ErrTransferRejected  = errors.New("chain: transfer rejected")
)

// TransferReceipt is the on-chain proof of a confirmed transfer.
type TransferReceipt struct {
	TxHash      string `json:"txHash"`
	BlockNumber int64  `json:"blockNumber"`
}

// Ledger is the boundary to the external value-transfer system. Both calls
// block until the daemon responds (Transfer waits for on-chain confirmation)
// and carry no dedup semantics: every Transfer call is a fresh attempt, so the
// caller must not retry after a confirmed success.
type Ledger interface {
	// GetBalance returns the token balance of the given address.
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)

	// Transfer moves amount from the server escrow to the recipient address
	// and blocks until the transfer is confirmed.
	Transfer(ctx context.Context, to string, amount decimal.Decimal) (*TransferReceipt, error)
}
