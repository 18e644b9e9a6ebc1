package api

import (
	"encoding/json"
	"net/http"

	"github.com/idbridge/idbridge/internal/reconcile"
)

// WhoamiResponse describes the authenticated session
type WhoamiResponse struct {
	Username string   `json:"username"`
	Groups   []string `json:"groups,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// ReconcileRequest carries a raw attribute bag from a trusted caller
type ReconcileRequest struct {
	Attributes map[string][]string `json:"attributes"`
	Source     string              `json:"source,omitempty"`
}

// handleWhoami returns the identity bound to the presented token
func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	claims := requestClaims(r)
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "No session")
		return
	}
	respondJSON(w, http.StatusOK, WhoamiResponse{
		Username: claims.Username,
		Groups:   claims.Groups,
		Source:   claims.Source,
	})
}

// handleReconcile reconciles an attribute bag submitted by a trusted,
// already-authenticated caller and issues a token for the resulting account.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Attributes) == 0 {
		respondError(w, http.StatusBadRequest, "No attributes provided")
		return
	}

	source := req.Source
	if source == "" {
		source = "api"
	}

	s.completeLogin(w, r, reconcile.AttributeBag(req.Attributes), source)
}

// handleLogout returns the identity provider logout URL for the session's
// source, falling back to any source that advertises one.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if samlSource := s.sources.SAML(); samlSource != nil {
		if logoutURL := samlSource.LogoutURL(); logoutURL != "" {
			respondJSON(w, http.StatusOK, map[string]string{"logout_url": logoutURL})
			return
		}
	}
	if oidcSource := s.sources.OIDC(); oidcSource != nil {
		if logoutURL := oidcSource.LogoutURL(); logoutURL != "" {
			respondJSON(w, http.StatusOK, map[string]string{"logout_url": logoutURL})
			return
		}
	}
	// Token-based sessions have no server-side state to clear.
	respondJSON(w, http.StatusOK, map[string]string{"logout_url": ""})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
