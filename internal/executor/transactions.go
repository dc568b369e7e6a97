package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aeither/AptosDeFiHub/internal/dex"
	"github.com/aeither/AptosDeFiHub/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrSimulationFailed   = errors.New("transaction simulation reported an error")
	ErrSigningFailed      = errors.New("transaction signing failed")
	ErrSubmissionFailed   = errors.New("transaction submission failed")
	ErrConfirmationFailed = errors.New("transaction was not confirmed in time")
	ErrEmptyPayload       = errors.New("transaction payload is empty")
)

// Signer produces a signed transaction blob for a payload. Key management is
// the signer's concern; the executor never sees key material.
type Signer interface {
	Sign(payload dex.TxPayload) ([]byte, error)
	Address() string
}

// Client submits transactions through the fullnode REST API: simulate first
// and fail fast on simulation errors, then sign, submit, and poll until the
// transaction confirms. Submission gets one retry after a multi-second
// backoff; confirmation polling is bounded.
type Client struct {
	baseURL    string
	signer     Signer
	httpClient *http.Client
	logger     zerolog.Logger

	submitRetryBackoff time.Duration
	confirmPollDelay   time.Duration
	confirmMaxPolls    int
}

// NewClient creates a transaction executor against the given fullnode.
func NewClient(baseURL string, signer Signer) *Client {
	return &Client{
		baseURL:            baseURL,
		signer:             signer,
		httpClient:         &http.Client{Timeout: 20 * time.Second},
		logger:             logger.GetForComponent("tx_executor"),
		submitRetryBackoff: 4 * time.Second,
		confirmPollDelay:   time.Second,
		confirmMaxPolls:    30,
	}
}

type simulationResponse struct {
	Success  bool   `json:"success"`
	VMStatus string `json:"vm_status"`
	GasUsed  string `json:"gas_used"`
}

type submitResponse struct {
	Hash string `json:"hash"`
}

type confirmResponse struct {
	Success  bool   `json:"success"`
	VMStatus string `json:"vm_status"`
	GasUsed  uint64 `json:"gas_used,string"`
}

// Execute runs the full simulate-sign-submit-confirm sequence for one payload.
func (c *Client) Execute(ctx context.Context, payload dex.TxPayload, label string) (dex.TxResult, error) {
	if payload.Function == "" {
		return dex.TxResult{}, ErrEmptyPayload
	}
	if payload.Sender == "" {
		payload.Sender = c.signer.Address()
	}

	c.logger.Info().
		Str("label", label).
		Str("function", payload.Function).
		Str("sender", payload.Sender).
		Msg("Executing transaction")

	if err := c.simulate(ctx, payload); err != nil {
		c.logger.Error().Err(err).Str("label", label).Msg("Simulation rejected transaction")
		return dex.TxResult{}, err
	}

	signed, err := c.signer.Sign(payload)
	if err != nil {
		return dex.TxResult{}, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}

	hash, err := c.submit(ctx, signed)
	if err != nil {
		// One bounded retry; the dedup layer above prevents double-spends
		// when the first submission actually landed.
		c.logger.Warn().Err(err).Str("label", label).Msg("Submission failed, retrying once after backoff")
		select {
		case <-ctx.Done():
			return dex.TxResult{}, ctx.Err()
		case <-time.After(c.submitRetryBackoff):
		}
		hash, err = c.submit(ctx, signed)
		if err != nil {
			return dex.TxResult{}, err
		}
	}

	result, err := c.awaitConfirmation(ctx, hash)
	if err != nil {
		return dex.TxResult{}, err
	}

	c.logger.Info().
		Str("label", label).
		Str("txHash", result.Hash).
		Uint64("gasUsed", result.GasUsed).
		Msg("Transaction confirmed")
	return result, nil
}

// simulate asks the node to dry-run the payload and fails fast on any VM
// error. Validation failures here are fatal for the sub-step, never retried.
func (c *Client) simulate(ctx context.Context, payload dex.TxPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, "/v1/transactions/simulate", body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSimulationFailed, err)
	}
	defer resp.Body.Close()

	var sims []simulationResponse
	if err := json.NewDecoder(resp.Body).Decode(&sims); err != nil {
		return fmt.Errorf("%w: decoding simulation response: %w", ErrSimulationFailed, err)
	}
	if len(sims) == 0 {
		return fmt.Errorf("%w: empty simulation response", ErrSimulationFailed)
	}
	if !sims[0].Success {
		return fmt.Errorf("%w: %s", ErrSimulationFailed, sims[0].VMStatus)
	}
	return nil
}

func (c *Client) submit(ctx context.Context, signed []byte) (string, error) {
	resp, err := c.post(ctx, "/v1/transactions", signed)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()

	var sub submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return "", fmt.Errorf("%w: decoding submit response: %w", ErrSubmissionFailed, err)
	}
	if sub.Hash == "" {
		return "", fmt.Errorf("%w: node returned no transaction hash", ErrSubmissionFailed)
	}
	return sub.Hash, nil
}

// awaitConfirmation polls the transaction by hash until it lands or the poll
// budget is exhausted.
func (c *Client) awaitConfirmation(ctx context.Context, hash string) (dex.TxResult, error) {
	for i := 0; i < c.confirmMaxPolls; i++ {
		select {
		case <-ctx.Done():
			return dex.TxResult{}, ctx.Err()
		case <-time.After(c.confirmPollDelay):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/transactions/by_hash/"+hash, nil)
		if err != nil {
			return dex.TxResult{}, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn().Err(err).Str("txHash", hash).Msg("Confirmation poll failed")
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			continue // still in the mempool
		}

		var confirmed confirmResponse
		err = json.NewDecoder(resp.Body).Decode(&confirmed)
		resp.Body.Close()
		if err != nil {
			continue
		}
		if !confirmed.Success {
			return dex.TxResult{}, fmt.Errorf("transaction %s aborted on-chain: %s", hash, confirmed.VMStatus)
		}
		return dex.TxResult{Hash: hash, GasUsed: confirmed.GasUsed}, nil
	}
	return dex.TxResult{}, fmt.Errorf("%w: %s", ErrConfirmationFailed, hash)
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	return resp, nil
}
