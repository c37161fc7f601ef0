// Package solana reads finalized SPL token transfers over the Solana JSON-RPC API.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/time/rate"

	"github.com/suspectuso/content-unlock/internal/ledger"
)

const (
	signatureLen = 64
	pubkeyLen    = 32
)

// Client is a Solana JSON-RPC client
type Client struct {
	rpcURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new Solana client limited to rps requests per second
func NewClient(rpcURL string, rps float64) *Client {
	return &Client{
		rpcURL: strings.TrimSuffix(rpcURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// ValidAddress reports whether addr is a base58 encoded 32-byte public key
func ValidAddress(addr string) bool {
	return len(base58.Decode(addr)) == pubkeyLen
}

// NormalizeAddress trims whitespace; base58 is case sensitive so nothing else changes
func (c *Client) NormalizeAddress(addr string) string {
	return strings.TrimSpace(addr)
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("rpc http error %d: %s", resp.StatusCode, string(data))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

// FetchFinalizedTransaction loads a transaction at finalized commitment
func (c *Client) FetchFinalizedTransaction(ctx context.Context, signature string) (*ledger.Transaction, error) {
	signature = strings.TrimSpace(signature)
	if len(base58.Decode(signature)) != signatureLen {
		return nil, fmt.Errorf("%w: malformed signature", ledger.ErrNotFound)
	}

	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"commitment":                     "finalized",
			"maxSupportedTransactionVersion": 0,
		},
	}

	var result *transactionResult
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ledger.ErrNotFound
	}

	tx := &ledger.Transaction{Ref: signature}
	if keys := result.Transaction.Message.AccountKeys; len(keys) > 0 {
		tx.FeePayer = keys[0]
	}
	if result.Meta == nil {
		return tx, nil
	}

	tx.ExecutedOK = result.Meta.succeeded()

	pre, err := convertBalances(result.Meta.PreTokenBalances)
	if err != nil {
		return nil, err
	}
	post, err := convertBalances(result.Meta.PostTokenBalances)
	if err != nil {
		return nil, err
	}
	tx.PreBalances = pre
	tx.PostBalances = post

	return tx, nil
}

func convertBalances(in []tokenBalance) ([]ledger.Balance, error) {
	out := make([]ledger.Balance, 0, len(in))
	for _, tb := range in {
		amount, ok := new(big.Int).SetString(tb.UITokenAmount.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid token amount %q for account index %d", tb.UITokenAmount.Amount, tb.AccountIndex)
		}
		out = append(out, ledger.Balance{
			Owner:   tb.Owner,
			AssetID: tb.Mint,
			Amount:  amount,
		})
	}
	return out, nil
}
