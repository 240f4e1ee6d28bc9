package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"

	"HedgeVault/internal/observability"
	"HedgeVault/internal/vault"
)

// Gateway serves the vault's read views over HTTP JSON. It uses the
// grpc-gateway mux so the routes can later be backed by generated gRPC
// handlers without changing paths.
type Gateway struct {
	vault  *vault.Vault
	health *observability.HealthChecker
	log    zerolog.Logger
	mux    *runtime.ServeMux
}

func NewGateway(v *vault.Vault, hc *observability.HealthChecker, log zerolog.Logger) (*Gateway, error) {
	g := &Gateway{
		vault:  v,
		health: hc,
		log:    log,
		mux:    runtime.NewServeMux(),
	}

	routes := []struct {
		method, pattern string
		handler         runtime.HandlerFunc
	}{
		{"GET", "/v1/vault/summary", g.handleSummary},
		{"GET", "/v1/vault/accounts/{account}", g.handleAccount},
		{"GET", "/v1/vault/limits/{account}", g.handleLimits},
		{"GET", "/v1/vault/epochs/{epoch}", g.handleEpoch},
		{"GET", "/healthz", g.handleLiveness},
		{"GET", "/readyz", g.handleReadiness},
	}
	for _, r := range routes {
		if err := g.mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return g, nil
}

func (g *Gateway) Handler() http.Handler { return g.mux }

type summaryResponse struct {
	CurrentEpoch   int64  `json:"current_epoch"`
	SettledEpoch   int64  `json:"settled_epoch"`
	EpochComplete  bool   `json:"epoch_complete"`
	EpochStale     bool   `json:"epoch_stale"`
	TotalAssets    int64  `json:"total_assets"`
	TotalSupply    int64  `json:"total_supply"`
	TotalUnclaimed int64  `json:"total_unclaimed"`
	MaxDeposit     int64  `json:"max_deposit"`
	Healthy        bool   `json:"healthy"`
	StateHash      string `json:"state_hash"`
}

func (g *Gateway) handleSummary(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.writeJSON(w, http.StatusOK, summaryResponse{
		CurrentEpoch:   int64(g.vault.CurrentEpoch()),
		SettledEpoch:   int64(g.vault.LatestSettledEpoch()),
		EpochComplete:  g.vault.CurrentEpochComplete(),
		EpochStale:     g.vault.CurrentEpochStale(),
		TotalAssets:    g.vault.TotalAssets(),
		TotalSupply:    g.vault.TotalSupply(),
		TotalUnclaimed: g.vault.TotalUnclaimed(),
		MaxDeposit:     g.vault.MaxDeposit(),
		Healthy:        g.vault.Healthy(),
		StateHash:      hex.EncodeToString(g.vault.StateHash()),
	})
}

func (g *Gateway) handleAccount(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account, err := uuid.Parse(params["account"])
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	g.writeJSON(w, http.StatusOK, g.vault.Account(account))
}

type limitsResponse struct {
	MaxDeposit int64 `json:"max_deposit"`
	MaxRedeem  int64 `json:"max_redeem"`
	Healthy    bool  `json:"healthy"`
}

func (g *Gateway) handleLimits(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account, err := uuid.Parse(params["account"])
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	g.writeJSON(w, http.StatusOK, limitsResponse{
		MaxDeposit: g.vault.MaxDeposit(),
		MaxRedeem:  g.vault.MaxRedeem(account),
		Healthy:    g.vault.Healthy(),
	})
}

type epochResponse struct {
	Checkpoint *vault.Checkpoint `json:"checkpoint"`
	PnL        map[string]int64  `json:"pnl,omitempty"`
}

func (g *Gateway) handleEpoch(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var epoch int64
	if params["epoch"] == "current" {
		epoch = int64(g.vault.LatestSettledEpoch())
	} else {
		var err error
		epoch, err = strconv.ParseInt(params["epoch"], 10, 64)
		if err != nil {
			g.writeError(w, http.StatusBadRequest, "invalid epoch")
			return
		}
	}

	cp, ok := g.vault.CheckpointAt(vault.Epoch(epoch))
	if !ok {
		g.writeError(w, http.StatusNotFound, "epoch not finalized")
		return
	}
	resp := epochResponse{Checkpoint: cp}
	if pnl, ok := g.vault.EpochPnL(vault.Epoch(epoch)); ok {
		resp.PnL = pnl
	}
	g.writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleLiveness(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.health.LivenessHandler(w, r)
}

func (g *Gateway) handleReadiness(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.health.ReadinessHandler(w, r)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.log.Warn().Err(err).Msg("encode response")
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, status int, msg string) {
	g.writeJSON(w, status, map[string]string{"error": msg})
}
