package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/krewdev/bluetrap/internal/defense"
	apperrors "github.com/krewdev/bluetrap/internal/errors"
	"github.com/krewdev/bluetrap/internal/keys"
	"github.com/krewdev/bluetrap/internal/metrics"
	"github.com/krewdev/bluetrap/internal/server/middleware"
)

// DefaultProfile is served at /me when no profile document is configured.
var DefaultProfile = json.RawMessage(`{
  "name": "OMNEE Protocol",
  "jobTitle": "Universal Settlement Layer",
  "location": "Ethereum Mainnet",
  "availability": {
    "status": "Online",
    "nextOpenSlot": "Always available"
  },
  "knowsAbout": [
    "Cross-chain operations",
    "Bot detection",
    "Agent authorization",
    "MNEE token management"
  ],
  "contact": {
    "email": "info@omnee.protocol",
    "github": "https://github.com/krewdev/oMNEE-protocol"
  }
}`)

// LoadProfile reads the /me document from path. An empty path yields DefaultProfile.
func LoadProfile(path string) (json.RawMessage, error) {
	if path == "" {
		return DefaultProfile, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("profile %s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}

// AgentHandlers serves the collaborator endpoints: key issuance, wallet
// verification and the protected profile.
type AgentHandlers struct {
	// Limiter throttles key issuance per client; nil disables throttling.
	Limiter   *keys.Limiter
	KeyLength int
	Profile   json.RawMessage
	Logger    *logging.Logger
}

// KeyResponse is returned by POST /generate-key.
type KeyResponse struct {
	Key string `json:"key"`
}

// WalletResponse is the placeholder answer of GET /verify-wallet/{address}.
type WalletResponse struct {
	Wallet      string `json:"wallet"`
	HasAccess   bool   `json:"has_access"`
	Balance     int    `json:"balance"`
	TokenType   string `json:"token_type"`
	MinRequired int    `json:"min_required"`
}

// GenerateKey handles POST /generate-key.
func (h *AgentHandlers) GenerateKey(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.GetClientID(r)
	if h.Limiter != nil && !h.Limiter.Allow(clientID) {
		w.Header().Set("Retry-After", "60")
		respondWithError(w, r, apperrors.NewRateLimitedError("too many key requests", 60))
		return
	}

	length := h.KeyLength
	if length <= 0 {
		length = keys.DefaultLength
	}
	key, err := keys.Generate(length)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "failed to generate key"))
		return
	}

	metrics.RecordKeyIssued()
	if h.Logger != nil {
		h.Logger.Info("Issued agent key",
			zap.String("client", clientID),
			zap.String("key_id", defense.KeyID(key)),
			zap.String("requestID", middleware.GetRequestID(r.Context())))
	}

	writeJSON(w, http.StatusOK, KeyResponse{Key: key})
}

// VerifyWallet handles GET /verify-wallet/{address}. Every wallet is granted access.
func (h *AgentHandlers) VerifyWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, WalletResponse{
		Wallet:    chi.URLParam(r, "address"),
		HasAccess: true,
		TokenType: "Ethereum",
	})
}

// Me handles GET /me, the resource the defense layer protects.
func (h *AgentHandlers) Me(w http.ResponseWriter, r *http.Request) {
	profile := h.Profile
	if len(profile) == 0 {
		profile = DefaultProfile
	}

	if info, ok := defense.AuthInfoFrom(r.Context()); ok && info.Authenticated {
		w.Header().Set("X-Agent-Authenticated", "true")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(profile)
}
