package stellar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// rpcCall makes a JSON-RPC call to the Soroban RPC endpoint.
func (c *Client) rpcCall(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.sorobanURL == "" {
		return nil, fmt.Errorf("soroban RPC URL not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sorobanURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UnavailableError{Op: method, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &UnavailableError{Op: method, Status: resp.StatusCode}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Op: method, Cause: err}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// SubscriptionExpiry reads the subscription contract entry for a
// (fan, creator) pair and returns its expiry in epoch seconds. A missing
// entry returns ErrNoSubscription: absence is a legitimate negative.
func (c *Client) SubscriptionExpiry(ctx context.Context, fanAddress, creatorAddress string) (int64, error) {
	if c.contractID == "" {
		return 0, fmt.Errorf("subscription contract not configured")
	}

	result, err := c.rpcCall(ctx, "getContractData", map[string]interface{}{
		"contract": c.contractID,
		"key":      []string{fanAddress, creatorAddress},
	})
	if err != nil {
		return 0, err
	}

	parsed := gjson.ParseBytes(result)
	if !parsed.Get("found").Bool() {
		return 0, ErrNoSubscription
	}
	return parsed.Get("expiry").Int(), nil
}
