package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/aeither/AptosDeFiHub/internal/dex"
)

type staticSigner struct{}

func (staticSigner) Sign(payload dex.TxPayload) ([]byte, error) {
	return []byte(`{"signed":true}`), nil
}
func (staticSigner) Address() string { return "0xme" }

// fullnode emulates the REST endpoints the executor talks to.
type fullnode struct {
	simulateOK   bool
	vmStatus     string
	submitFails  atomic.Int32 // remaining submit failures to inject
	confirmAfter int          // polls before by_hash stops returning 404
	confirmOK    bool

	polls atomic.Int32
}

func (f *fullnode) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transactions/simulate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{{"success": f.simulateOK, "vm_status": f.vmStatus, "gas_used": "10"}})
	})
	mux.HandleFunc("/v1/transactions/by_hash/", func(w http.ResponseWriter, r *http.Request) {
		if int(f.polls.Add(1)) <= f.confirmAfter {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": f.confirmOK, "vm_status": f.vmStatus, "gas_used": "123"})
	})
	mux.HandleFunc("/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		if f.submitFails.Add(-1) >= 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"hash": "0xabc"})
	})
	return mux
}

func newTestClient(srvURL string) *Client {
	c := NewClient(srvURL, staticSigner{})
	c.submitRetryBackoff = 0
	c.confirmPollDelay = 0
	c.confirmMaxPolls = 5
	return c
}

func payload() dex.TxPayload {
	return dex.TxPayload{Function: "0xdex::router::swap", Sender: "0xme"}
}

func TestExecuteHappyPath(t *testing.T) {
	node := &fullnode{simulateOK: true, confirmAfter: 2, confirmOK: true}
	srv := httptest.NewServer(node.handler())
	defer srv.Close()

	result, err := newTestClient(srv.URL).Execute(context.Background(), payload(), "swap")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Hash != "0xabc" || result.GasUsed != 123 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

// Simulation rejection is fatal before anything is signed or submitted.
func TestExecuteFailsFastOnSimulation(t *testing.T) {
	node := &fullnode{simulateOK: false, vmStatus: "ABORTED: E_SLIPPAGE"}
	srv := httptest.NewServer(node.handler())
	defer srv.Close()

	_, err := newTestClient(srv.URL).Execute(context.Background(), payload(), "swap")
	if !errors.Is(err, ErrSimulationFailed) {
		t.Fatalf("expected ErrSimulationFailed, got %v", err)
	}
	if node.polls.Load() != 0 {
		t.Fatalf("nothing should have been submitted after a failed simulation")
	}
}

func TestExecuteRetriesSubmissionOnce(t *testing.T) {
	node := &fullnode{simulateOK: true, confirmOK: true}
	node.submitFails.Store(1)
	srv := httptest.NewServer(node.handler())
	defer srv.Close()

	result, err := newTestClient(srv.URL).Execute(context.Background(), payload(), "swap")
	if err != nil {
		t.Fatalf("single submit failure should be retried: %v", err)
	}
	if result.Hash != "0xabc" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteGivesUpAfterSecondSubmitFailure(t *testing.T) {
	node := &fullnode{simulateOK: true, confirmOK: true}
	node.submitFails.Store(2)
	srv := httptest.NewServer(node.handler())
	defer srv.Close()

	_, err := newTestClient(srv.URL).Execute(context.Background(), payload(), "swap")
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
}

func TestExecuteConfirmationTimeout(t *testing.T) {
	// by_hash 404s forever: the poll budget runs out.
	node := &fullnode{simulateOK: true, confirmAfter: 1000, confirmOK: true}
	srv := httptest.NewServer(node.handler())
	defer srv.Close()

	_, err := newTestClient(srv.URL).Execute(context.Background(), payload(), "swap")
	if !errors.Is(err, ErrConfirmationFailed) {
		t.Fatalf("expected ErrConfirmationFailed, got %v", err)
	}
}

func TestExecuteOnChainAbort(t *testing.T) {
	node := &fullnode{simulateOK: true, confirmOK: false, vmStatus: "ABORTED: E_AMOUNT_EXCEEDS_BALANCE"}
	srv := httptest.NewServer(node.handler())
	defer srv.Close()

	_, err := newTestClient(srv.URL).Execute(context.Background(), payload(), "swap")
	if err == nil {
		t.Fatalf("expected error for an on-chain abort")
	}
}

func TestExecuteRejectsEmptyPayload(t *testing.T) {
	_, err := newTestClient("http://unused").Execute(context.Background(), dex.TxPayload{}, "swap")
	if !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}
