package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// oidcStateStore keeps track of OIDC state for CSRF protection
type oidcStateStore struct {
	mu     sync.RWMutex
	states map[string]*oidcState
}

type oidcState struct {
	returnTo  string
	createdAt time.Time
}

var stateStore = &oidcStateStore{
	states: make(map[string]*oidcState),
}

// Clean up expired states periodically
func init() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			stateStore.cleanup()
		}
	}()
}

func (s *oidcStateStore) set(state, returnTo string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = &oidcState{
		returnTo:  returnTo,
		createdAt: time.Now(),
	}
}

func (s *oidcStateStore) get(state string) (*oidcState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[state]
	return st, ok
}

func (s *oidcStateStore) delete(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, state)
}

func (s *oidcStateStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-10 * time.Minute)
	for state, st := range s.states {
		if st.createdAt.Before(cutoff) {
			delete(s.states, state)
		}
	}
}

// handleOIDCLogin initiates the OIDC authentication flow
func (s *Server) handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	source := s.sources.OIDC()
	if source == nil {
		respondError(w, http.StatusNotFound, "OIDC source not configured")
		return
	}

	state := uuid.New().String()
	stateStore.set(state, r.URL.Query().Get("return_to"))

	http.Redirect(w, r, source.AuthCodeURL(state), http.StatusFound)
}

// handleOIDCCallback redeems the authorization code and reconciles the
// verified ID token claims.
func (s *Server) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	source := s.sources.OIDC()
	if source == nil {
		respondError(w, http.StatusNotFound, "OIDC source not configured")
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		respondError(w, http.StatusBadRequest, "Missing code or state parameter")
		return
	}

	if _, ok := stateStore.get(state); !ok {
		respondError(w, http.StatusBadRequest, "Invalid or expired state")
		return
	}
	defer stateStore.delete(state)

	bag, err := source.Exchange(r.Context(), code)
	if err != nil {
		s.log.WithError(err).Warn("OIDC code exchange failed")
		respondError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}

	s.completeLogin(w, r, bag, source.Name())
}
