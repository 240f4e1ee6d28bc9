package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"HedgeVault/internal/market"
	"HedgeVault/internal/observability"
	"HedgeVault/internal/server"
	"HedgeVault/internal/vault"
)

// ============================================================================
// Test: HTTP gateway
// ============================================================================

func newTestGateway(t *testing.T) (*httptest.Server, *vault.Vault, uuid.UUID) {
	t.Helper()

	treasury := market.NewSimTreasury()
	pair := market.NewSimPair("ETH-USD", treasury, 2_000_00)
	v, err := vault.New(vault.Config{
		Treasury:       treasury,
		Markets:        []vault.MarketConfig{{Pair: pair, Weight: 1}},
		TargetLeverage: 2_000_000,
		MaxCollateral:  1_000_000_000_000,
		Metrics:        observability.NewMetrics(prometheus.NewRegistry()),
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	alice := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	treasury.Fund(alice, 10_000_000_000)
	if err := v.Deposit(context.Background(), alice, 1_000_000_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	pair.AdvanceVersion(2_000_00, 0, 0)
	if err := v.SyncAccount(context.Background(), alice); err != nil {
		t.Fatalf("SyncAccount: %v", err)
	}

	hc := observability.NewHealthChecker()
	hc.SetReady(true)
	gw, err := server.NewGateway(v, hc, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv, v, alice
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestGateway_Summary(t *testing.T) {
	srv, v, _ := newTestGateway(t)

	var got struct {
		SettledEpoch int64  `json:"settled_epoch"`
		TotalAssets  int64  `json:"total_assets"`
		TotalSupply  int64  `json:"total_supply"`
		Healthy      bool   `json:"healthy"`
		StateHash    string `json:"state_hash"`
	}
	if code := getJSON(t, srv.URL+"/v1/vault/summary", &got); code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", code)
	}
	if got.SettledEpoch != 1 {
		t.Errorf("settled epoch: got %d, want 1", got.SettledEpoch)
	}
	if got.TotalSupply != v.TotalSupply() || got.TotalSupply != 1_000_000_000 {
		t.Errorf("supply: got %d, want %d", got.TotalSupply, int64(1_000_000_000))
	}
	if !got.Healthy {
		t.Error("healthy: got false, want true")
	}
	if len(got.StateHash) != 64 {
		t.Errorf("state hash hex length: got %d, want 64", len(got.StateHash))
	}
}

func TestGateway_Account(t *testing.T) {
	srv, _, alice := newTestGateway(t)

	var got vault.AccountView
	if code := getJSON(t, srv.URL+"/v1/vault/accounts/"+alice.String(), &got); code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", code)
	}
	if got.Shares != 1_000_000_000 {
		t.Errorf("shares: got %d, want %d", got.Shares, int64(1_000_000_000))
	}

	if code := getJSON(t, srv.URL+"/v1/vault/accounts/not-a-uuid", nil); code != http.StatusBadRequest {
		t.Errorf("bad uuid status: got %d, want 400", code)
	}
}

func TestGateway_Limits(t *testing.T) {
	srv, v, alice := newTestGateway(t)

	var got struct {
		MaxDeposit int64 `json:"max_deposit"`
		MaxRedeem  int64 `json:"max_redeem"`
	}
	if code := getJSON(t, srv.URL+"/v1/vault/limits/"+alice.String(), &got); code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", code)
	}
	if got.MaxDeposit != v.MaxDeposit() {
		t.Errorf("max deposit: got %d, want %d", got.MaxDeposit, v.MaxDeposit())
	}
	if got.MaxRedeem != v.MaxRedeem(alice) {
		t.Errorf("max redeem: got %d, want %d", got.MaxRedeem, v.MaxRedeem(alice))
	}
}

func TestGateway_Epochs(t *testing.T) {
	srv, _, _ := newTestGateway(t)

	var got struct {
		Checkpoint struct {
			Epoch        int64  `json:"epoch"`
			MintedShares int64  `json:"minted_shares"`
			StateHash    []byte `json:"state_hash"`
		} `json:"checkpoint"`
	}
	if code := getJSON(t, srv.URL+"/v1/vault/epochs/current", &got); code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", code)
	}
	if got.Checkpoint.Epoch != 1 {
		t.Errorf("epoch: got %d, want 1", got.Checkpoint.Epoch)
	}
	if got.Checkpoint.MintedShares != 1_000_000_000 {
		t.Errorf("minted: got %d, want %d", got.Checkpoint.MintedShares, int64(1_000_000_000))
	}
	if len(got.Checkpoint.StateHash) == 0 {
		t.Error("state_hash missing from checkpoint body")
	}

	if code := getJSON(t, srv.URL+"/v1/vault/epochs/99", nil); code != http.StatusNotFound {
		t.Errorf("unfinalized epoch status: got %d, want 404", code)
	}
}

func TestGateway_Probes(t *testing.T) {
	srv, _, _ := newTestGateway(t)

	if code := getJSON(t, srv.URL+"/healthz", nil); code != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", code)
	}
	if code := getJSON(t, srv.URL+"/readyz", nil); code != http.StatusOK {
		t.Errorf("readyz: got %d, want 200", code)
	}
}
