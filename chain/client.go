package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"askbounty/models"
)

const (
	// DefaultDialTimeout is the timeout for establishing a TCP connection to the daemon.
	DefaultDialTimeout = 5 * time.Second

	// DefaultBalanceTimeout bounds a balance query end to end.
	DefaultBalanceTimeout = 10 * time.Second

	// DefaultTransferTimeout bounds a transfer including on-chain confirmation.
	// Transfers block until the daemon sees the transaction confirmed, so this
	// is deliberately generous.
	DefaultTransferTimeout = 2 * time.Minute
)

// Client implements Ledger by talking to the chain daemon over HTTP REST.
// The daemon holds the escrow key; this client never sees key material.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	balanceTimeout  time.Duration
	transferTimeout time.Duration
	log             *logrus.Logger
}

// Compile-time interface check
var _ Ledger = (*Client)(nil)

// NewClient creates a ledger client for the daemon at baseURL.
func NewClient(baseURL string, log *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Timeout is not set here; per-request contexts carry the deadline
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout: DefaultDialTimeout,
				}).DialContext,
			},
		},
		balanceTimeout:  DefaultBalanceTimeout,
		transferTimeout: DefaultTransferTimeout,
		log:             log,
	}
}

type balanceResponse struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

type transferRequest struct {
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type transferResponse struct {
	TxHash      string `json:"txHash"`
	BlockNumber int64  `json:"blockNumber"`
}

type daemonError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GetBalance queries the daemon for the token balance of address.
func (c *Client) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !models.ValidWalletAddress(address) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	ctx, cancel := context.WithTimeout(ctx, c.balanceTimeout)
	defer cancel()

	endpoint := c.baseURL + "/v1/balance/" + url.PathEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, c.mapError(resp)
	}

	var body balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed balance response: %v", ErrLedgerUnavailable, err)
	}
	return body.Balance, nil
}

// Transfer asks the daemon to move amount from the escrow to the recipient and
// blocks until the daemon reports on-chain confirmation. The reference id only
// correlates retried attempts in logs; the daemon does not deduplicate on it.
func (c *Client) Transfer(ctx context.Context, to string, amount decimal.Decimal) (*TransferReceipt, error) {
	if !models.ValidWalletAddress(to) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, to)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount %s", ErrTransferRejected, amount)
	}

	ctx, cancel := context.WithTimeout(ctx, c.transferTimeout)
	defer cancel()

	reference := uuid.NewString()
	payload, err := json.Marshal(transferRequest{
		Recipient: to,
		Amount:    amount,
		Reference: reference,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfer", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := c.mapError(resp)
		c.log.WithFields(logrus.Fields{
			"recipient": to,
			"amount":    amount.String(),
			"reference": reference,
		}).WithError(err).Warn("chain transfer failed")
		return nil, err
	}

	var body transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// A confirmed transfer with an unreadable receipt cannot be told apart
		// from a failed one; surface it as unavailable and let the caller
		// decide. The daemon keeps its own record under the reference id.
		return nil, fmt.Errorf("%w: malformed transfer response: %v", ErrLedgerUnavailable, err)
	}
	if body.TxHash == "" {
		return nil, fmt.Errorf("%w: transfer response missing tx hash", ErrLedgerUnavailable)
	}

	c.log.WithFields(logrus.Fields{
		"recipient": to,
		"amount":    amount.String(),
		"reference": reference,
		"tx_hash":   body.TxHash,
		"block":     body.BlockNumber,
	}).Info("chain transfer confirmed")

	return &TransferReceipt{TxHash: body.TxHash, BlockNumber: body.BlockNumber}, nil
}

// mapError translates a daemon error response into one of the sentinel
// error categories.
func (c *Client) mapError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var derr daemonError
	if json.Unmarshal(raw, &derr) == nil && derr.Code != "" {
		switch derr.Code {
		case "invalid_address":
			return fmt.Errorf("%w: %s", ErrInvalidAddress, derr.Message)
		case "insufficient_funds":
			return fmt.Errorf("%w: %s", ErrInsufficientFunds, derr.Message)
		case "rejected":
			return fmt.Errorf("%w: %s", ErrTransferRejected, derr.Message)
		}
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: status %d", ErrInvalidAddress, resp.StatusCode)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: status %d", ErrInsufficientFunds, resp.StatusCode)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status %d", ErrTransferRejected, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrLedgerUnavailable, resp.StatusCode)
	}
}
