package stellar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testAccount = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		HorizonURL:        srv.URL,
		SorobanRPCURL:     srv.URL,
		NetworkPassphrase: "Test SDF Network ; September 2015",
		RequestsPerSecond: 1000,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

func TestLoadAccount(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/"+testAccount {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"sequence": "123456789",
			"balances": [
				{"asset_type": "credit_alphanum4", "asset_code": "USDC", "asset_issuer": "GISSUER", "balance": "100.5000000"},
				{"asset_type": "native", "balance": "50.0000000"}
			]
		}`))
	}))

	acct, err := client.LoadAccount(context.Background(), testAccount)
	if err != nil {
		t.Fatalf("LoadAccount: %v", err)
	}
	if acct.Sequence != 123456789 {
		t.Fatalf("sequence = %d", acct.Sequence)
	}
	if len(acct.Balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(acct.Balances))
	}
	if acct.Balances[0].AssetCode != "USDC" || acct.Balances[0].Balance != "100.5000000" {
		t.Fatalf("unexpected balance %+v", acct.Balances[0])
	}
	if !acct.Balances[1].Native() {
		t.Fatal("second line should be native")
	}
}

func TestLoadAccountNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.LoadAccount(context.Background(), testAccount)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestLoadAccountServerErrorIsUnavailable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.LoadAccount(context.Background(), testAccount)
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestSubmitTransactionAccepted(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostFormValue("tx") != "signed-xdr" {
			t.Errorf("unexpected tx %q", r.PostFormValue("tx"))
		}
		w.Write([]byte(`{"hash": "deadbeef", "ledger": 1234}`))
	}))

	result, err := client.SubmitTransaction(context.Background(), "signed-xdr")
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if result.Hash != "deadbeef" || result.Ledger != 1234 || result.Duplicate {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSubmitTransactionDuplicateIsSuccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{
			"extras": {
				"envelope_hash": "deadbeef",
				"result_codes": {"transaction": "tx_duplicate"}
			}
		}`))
	}))

	result, err := client.SubmitTransaction(context.Background(), "signed-xdr")
	if err != nil {
		t.Fatalf("duplicate should not be an error: %v", err)
	}
	if !result.Duplicate || result.Hash != "deadbeef" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSubmitTransactionRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{
			"detail": "transaction failed",
			"extras": {
				"result_codes": {
					"transaction": "tx_bad_seq",
					"operations": ["op_underfunded"]
				}
			}
		}`))
	}))

	_, err := client.SubmitTransaction(context.Background(), "signed-xdr")
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rej.ResultCode != "tx_bad_seq" {
		t.Fatalf("result code %q", rej.ResultCode)
	}
	if len(rej.OperationCodes) != 1 || rej.OperationCodes[0] != "op_underfunded" {
		t.Fatalf("operation codes %v", rej.OperationCodes)
	}
	if IsUnavailable(err) {
		t.Fatal("rejection must not read as unavailable")
	}
}

func TestSubmitTransactionRateLimitedIsUnavailable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.SubmitTransaction(context.Background(), "signed-xdr")
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestGetTransaction(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hash": "deadbeef", "successful": true, "ledger": 99}`))
	}))

	status, err := client.GetTransaction(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !status.Successful || status.Ledger != 99 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetTransaction(context.Background(), "deadbeef")
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestConnectionErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client, err := NewClient(Config{HorizonURL: srv.URL, RequestsPerSecond: 1000})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	srv.Close()

	_, err = client.LoadAccount(context.Background(), testAccount)
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable on connection error, got %v", err)
	}
}
