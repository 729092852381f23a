package stellar

import (
	"errors"
	"fmt"

	"encoding/json"
)

// Account is the subset of a Horizon account record the pipeline needs.
type Account struct {
	Address  string
	Sequence int64
	Balances []Balance
}

// Balance is one balance line of an account.
type Balance struct {
	AssetType   string
	AssetCode   string
	AssetIssuer string
	Balance     string
}

// Native reports whether the balance line is the network's native asset.
func (b Balance) Native() bool { return b.AssetType == "native" }

// SubmitResult is the outcome of an accepted envelope submission. Duplicate
// is set when the network reported the hash as already submitted, which the
// pipeline treats the same as acceptance.
type SubmitResult struct {
	Hash      string
	Ledger    int64
	Duplicate bool
}

// TransactionStatus is the outcome of a lookup by hash.
type TransactionStatus struct {
	Hash       string
	Successful bool
	Ledger     int64
	ResultCode string
}

// Sentinel errors for legitimate negatives.
var (
	ErrAccountNotFound     = errors.New("stellar: account not found")
	ErrTransactionNotFound = errors.New("stellar: transaction not found")
	ErrNoSubscription      = errors.New("stellar: no subscription entry")
)

// RejectionError is a synchronous, structural submission rejection (bad
// sequence, insufficient balance, malformed operation). It is never
// retryable with the same bytes.
type RejectionError struct {
	ResultCode     string
	OperationCodes []string
	Message        string
}

func (e *RejectionError) Error() string {
	if len(e.OperationCodes) > 0 {
		return fmt.Sprintf("transaction rejected: %s %v", e.ResultCode, e.OperationCodes)
	}
	return fmt.Sprintf("transaction rejected: %s", e.ResultCode)
}

// UnavailableError is a transient transport or server-side failure:
// connection errors, timeouts, 429 and 5xx responses.
type UnavailableError struct {
	Op     string
	Status int
	Cause  error
}

func (e *UnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ledger unavailable during %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("ledger unavailable during %s: status %d", e.Op, e.Status)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// IsUnavailable reports whether the error chain represents a transient
// ledger failure worth retrying with backoff.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// IsRejection reports whether the error chain is a structural rejection.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
