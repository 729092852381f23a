package stellar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newSorobanClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		HorizonURL:           srv.URL,
		SorobanRPCURL:        srv.URL,
		SubscriptionContract: "CCONTRACT",
		RequestsPerSecond:    1000,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestSubscriptionExpiry(t *testing.T) {
	client := newSorobanClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params struct {
				Contract string   `json:"contract"`
				Key      []string `json:"key"`
			} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
		}
		if req.Method != "getContractData" {
			t.Errorf("unexpected method %q", req.Method)
		}
		if req.Params.Contract != "CCONTRACT" || len(req.Params.Key) != 2 {
			t.Errorf("unexpected params %+v", req.Params)
		}
		w.Write([]byte(`{"jsonrpc": "2.0", "id": 1, "result": {"found": true, "expiry": 1767225600}}`))
	}))

	expiry, err := client.SubscriptionExpiry(context.Background(), "GFAN", "GCREATOR")
	if err != nil {
		t.Fatalf("SubscriptionExpiry: %v", err)
	}
	if expiry != 1767225600 {
		t.Fatalf("expiry = %d", expiry)
	}
}

func TestSubscriptionExpiryMissingEntry(t *testing.T) {
	client := newSorobanClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc": "2.0", "id": 1, "result": {"found": false}}`))
	}))

	_, err := client.SubscriptionExpiry(context.Background(), "GFAN", "GCREATOR")
	if !errors.Is(err, ErrNoSubscription) {
		t.Fatalf("expected ErrNoSubscription, got %v", err)
	}
}

func TestSubscriptionExpiryRPCError(t *testing.T) {
	client := newSorobanClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc": "2.0", "id": 1, "error": {"code": -32600, "message": "invalid request"}}`))
	}))

	_, err := client.SubscriptionExpiry(context.Background(), "GFAN", "GCREATOR")
	if err == nil {
		t.Fatal("expected error from rpc error response")
	}
	if errors.Is(err, ErrNoSubscription) {
		t.Fatal("rpc error must not read as a missing entry")
	}
}

func TestSubscriptionExpiryServerErrorIsUnavailable(t *testing.T) {
	client := newSorobanClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.SubscriptionExpiry(context.Background(), "GFAN", "GCREATOR")
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestStrkeyValidation(t *testing.T) {
	valid := []string{
		"GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ",
		"GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H",
	}
	for _, addr := range valid {
		if !IsValidAccountAddress(addr) {
			t.Errorf("%s should be a valid account address", addr)
		}
		if IsValidContractAddress(addr) {
			t.Errorf("%s must not pass as a contract address", addr)
		}
	}

	contract := "CAAACAQDAQCQMBYIBEFAWDANBYHRAEISCMKBKFQXDAMRUGY4DUPB6N4O"
	if !IsValidContractAddress(contract) {
		t.Errorf("%s should be a valid contract address", contract)
	}
	if IsValidAccountAddress(contract) {
		t.Errorf("%s must not pass as an account address", contract)
	}

	invalid := []string{
		"",
		"GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSG",   // short
		"GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGA",  // bad checksum
		"ga7qynf7sowq3glr2bgmzehxavirza4kvwltjjfc7mgxua74p7ujvsgz",  // lowercase
		"SA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ",  // seed prefix
	}
	for _, addr := range invalid {
		if IsValidAccountAddress(addr) {
			t.Errorf("%s should be rejected", addr)
		}
	}
}
