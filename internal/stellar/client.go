// Package stellar provides the ledger gateway: a stateless client wrapping
// Horizon REST reads/writes and the Soroban RPC subscription-contract read.
package stellar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Config holds gateway configuration.
type Config struct {
	HorizonURL           string
	SorobanRPCURL        string
	NetworkPassphrase    string
	SubscriptionContract string
	Timeout              time.Duration
	RequestsPerSecond    float64
}

// Client is the ledger gateway. It is stateless apart from the shared HTTP
// client and rate limiter and is safe for concurrent use.
type Client struct {
	horizonURL   string
	sorobanURL   string
	passphrase   string
	contractID   string
	httpClient   *http.Client
	limiter      *rate.Limiter
}

// NewClient creates a gateway client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.HorizonURL == "" {
		return nil, fmt.Errorf("horizon URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}

	return &Client{
		horizonURL: strings.TrimRight(cfg.HorizonURL, "/"),
		sorobanURL: strings.TrimRight(cfg.SorobanRPCURL, "/"),
		passphrase: cfg.NetworkPassphrase,
		contractID: cfg.SubscriptionContract,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
	}, nil
}

// NetworkPassphrase returns the passphrase envelopes must be bound to.
func (c *Client) NetworkPassphrase() string { return c.passphrase }

// LoadAccount fetches an account's current sequence number and balances.
// Returns ErrAccountNotFound for unknown addresses.
func (c *Client) LoadAccount(ctx context.Context, address string) (*Account, error) {
	body, status, err := c.get(ctx, "/accounts/"+url.PathEscape(address))
	if err != nil {
		return nil, &UnavailableError{Op: "load account", Cause: err}
	}
	switch {
	case status == http.StatusNotFound:
		return nil, ErrAccountNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		return nil, &UnavailableError{Op: "load account", Status: status}
	case status != http.StatusOK:
		return nil, fmt.Errorf("load account: unexpected status %d", status)
	}

	acct := &Account{Address: address}
	acct.Sequence = gjson.GetBytes(body, "sequence").Int()

	for _, line := range gjson.GetBytes(body, "balances").Array() {
		acct.Balances = append(acct.Balances, Balance{
			AssetType:   line.Get("asset_type").String(),
			AssetCode:   line.Get("asset_code").String(),
			AssetIssuer: line.Get("asset_issuer").String(),
			Balance:     line.Get("balance").String(),
		})
	}
	return acct, nil
}

// SubmitTransaction submits a signed envelope. Structural rejections come
// back as *RejectionError; a duplicate-hash response is reported as an
// accepted SubmitResult with Duplicate set, because the network rejecting a
// hash it already holds means the submission took effect.
func (c *Client) SubmitTransaction(ctx context.Context, signedXDR string) (*SubmitResult, error) {
	form := url.Values{"tx": {signedXDR}}
	body, status, err := c.postForm(ctx, "/transactions", form)
	if err != nil {
		return nil, &UnavailableError{Op: "submit", Cause: err}
	}

	switch {
	case status == http.StatusOK:
		return &SubmitResult{
			Hash:   gjson.GetBytes(body, "hash").String(),
			Ledger: gjson.GetBytes(body, "ledger").Int(),
		}, nil

	case status == http.StatusTooManyRequests || status >= 500:
		return nil, &UnavailableError{Op: "submit", Status: status}

	case status == http.StatusBadRequest || status == http.StatusConflict:
		resultCode := gjson.GetBytes(body, "extras.result_codes.transaction").String()
		if resultCode == "tx_duplicate" {
			return &SubmitResult{
				Hash:      gjson.GetBytes(body, "extras.envelope_hash").String(),
				Duplicate: true,
			}, nil
		}
		rej := &RejectionError{
			ResultCode: resultCode,
			Message:    gjson.GetBytes(body, "detail").String(),
		}
		for _, op := range gjson.GetBytes(body, "extras.result_codes.operations").Array() {
			rej.OperationCodes = append(rej.OperationCodes, op.String())
		}
		if rej.ResultCode == "" {
			rej.ResultCode = "tx_malformed"
		}
		return nil, rej

	default:
		return nil, fmt.Errorf("submit: unexpected status %d", status)
	}
}

// GetTransaction looks up a transaction by hash. ErrTransactionNotFound
// means the network has not (yet) included it; the caller decides whether
// that is "still pending" or "gone".
func (c *Client) GetTransaction(ctx context.Context, hash string) (*TransactionStatus, error) {
	body, status, err := c.get(ctx, "/transactions/"+url.PathEscape(hash))
	if err != nil {
		return nil, &UnavailableError{Op: "lookup", Cause: err}
	}
	switch {
	case status == http.StatusNotFound:
		return nil, ErrTransactionNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		return nil, &UnavailableError{Op: "lookup", Status: status}
	case status != http.StatusOK:
		return nil, fmt.Errorf("lookup: unexpected status %d", status)
	}

	return &TransactionStatus{
		Hash:       gjson.GetBytes(body, "hash").String(),
		Successful: gjson.GetBytes(body, "successful").Bool(),
		Ledger:     gjson.GetBytes(body, "ledger").Int(),
		ResultCode: gjson.GetBytes(body, "result_code").String(),
	}, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.horizonURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.horizonURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
