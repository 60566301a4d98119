package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dgellow/linkd/internal/flow"
	jsonwriter "github.com/dgellow/linkd/internal/json"
	"github.com/dgellow/linkd/internal/log"
	"github.com/dgellow/linkd/internal/storage"
)

// Handlers bundles the HTTP handlers around the flow service.
type Handlers struct {
	flows *flow.Service
}

// NewHandlers creates the handler set.
func NewHandlers(flows *flow.Service) *Handlers {
	return &Handlers{flows: flows}
}

// NewRouter builds the full route table.
func NewRouter(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/callback", h.OAuthCallback)
	mux.HandleFunc("POST /link/start", h.StartLink)
	mux.HandleFunc("POST /auth/check", h.CheckAuth)
	mux.Handle("GET /healthz", NewHealthHandler())
	return mux
}

type startLinkRequest struct {
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id,omitempty"`
}

type startLinkResponse struct {
	AuthURL string `json:"auth_url"`
}

// StartLink begins a link flow and returns the authorization URL.
func (h *Handlers) StartLink(w http.ResponseWriter, r *http.Request) {
	var req startLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		jsonwriter.WriteBadRequest(w, "user_id is required")
		return
	}

	authURL, err := h.flows.StartLink(r.Context(), req.UserID, req.MessageID)
	if err != nil {
		log.LogErrorWithFields("server", "Failed to start link flow", map[string]any{
			"user_id": req.UserID,
			"error":   err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "failed to start link flow")
		return
	}

	_ = jsonwriter.Write(w, startLinkResponse{AuthURL: authURL})
}

// OAuthCallback receives the provider redirect and completes the link flow.
func (h *Handlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// The provider reports user denial and its own errors via query params.
	if errCode := q.Get("error"); errCode != "" {
		jsonwriter.WriteError(w, http.StatusBadRequest, errCode, q.Get("error_description"))
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		jsonwriter.WriteBadRequest(w, "code and state are required")
		return
	}

	result := h.flows.HandleCallback(r.Context(), code, state)
	if result.Err != nil {
		log.LogErrorWithFields("server", "Callback failed", map[string]any{
			"kind":    string(result.Err.Kind),
			"user_id": result.UserID,
			"error":   result.Err.Error(),
		})
		jsonwriter.WriteError(w, callbackStatus(result.Err.Kind), string(result.Err.Kind), result.Err.Message)
		return
	}

	_ = jsonwriter.Write(w, result)
}

// callbackStatus maps flow failures to HTTP statuses: the user's fault is a
// 400, the provider's a 502, ours a 500.
func callbackStatus(kind flow.ErrorKind) int {
	switch kind {
	case flow.KindInvalidState, flow.KindExpiredState:
		return http.StatusBadRequest
	case flow.KindTokenExchange, flow.KindUserFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type checkAuthRequest struct {
	UserID    string `json:"user_id"`
	DeepCheck bool   `json:"deep_check"`
}

// CheckAuth verifies the stored credential for a user, refreshing when needed.
func (h *Handlers) CheckAuth(w http.ResponseWriter, r *http.Request) {
	var req checkAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		jsonwriter.WriteBadRequest(w, "user_id is required")
		return
	}

	outcome, err := h.flows.CheckAuth(r.Context(), req.UserID, req.DeepCheck)
	if err != nil {
		var flowErr *flow.Error
		switch {
		case errors.Is(err, storage.ErrBindingNotFound):
			jsonwriter.WriteNotFound(w, "no linked identity for user")
		case errors.As(err, &flowErr) && flowErr.Kind == flow.KindRefreshToken:
			jsonwriter.WriteError(w, http.StatusBadGateway, string(flowErr.Kind), flowErr.Message)
		default:
			log.LogErrorWithFields("server", "Auth check failed", map[string]any{
				"user_id": req.UserID,
				"error":   err.Error(),
			})
			jsonwriter.WriteInternalServerError(w, "failed to check credential")
		}
		return
	}

	_ = jsonwriter.Write(w, outcome)
}
