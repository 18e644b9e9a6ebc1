package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/idbridge/idbridge/internal/audit"
	"github.com/idbridge/idbridge/internal/config"
	"github.com/idbridge/idbridge/internal/reconcile"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// AuthService issues and validates session tokens for reconciled identities
type AuthService struct {
	config *config.Config
}

// NewAuthService creates a new authentication service
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{config: cfg}
}

// Claims represents JWT token claims
type Claims struct {
	Username string   `json:"username"`
	Groups   []string `json:"groups,omitempty"`
	Source   string   `json:"source,omitempty"`
	jwt.RegisteredClaims
}

// LoginRequest represents login credentials for the static source
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionResponse is returned after a successful reconciliation
type SessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Groups    []string  `json:"groups,omitempty"`
	Created   bool      `json:"created"`
}

// handleLogin authenticates against the static source and reconciles the
// resulting attribute bag.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	static := s.sources.Static()
	if static == nil {
		respondError(w, http.StatusNotFound, "No static source configured")
		return
	}

	bag, err := static.Authenticate(req.Username, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	s.completeLogin(w, r, bag, static.Name())
}

// completeLogin runs a reconciliation pass for an assertion bag and writes
// the session response. A duplicate-username rejection (lost creation race)
// is retried once: the retry finds the winner's account.
func (s *Server) completeLogin(w http.ResponseWriter, r *http.Request, bag reconcile.AttributeBag, source string) {
	result, err := s.reconciler.Reconcile(r.Context(), bag)
	if err == nil && result.Outcome == reconcile.OutcomeRejected &&
		result.RejectKind == reconcile.RejectDuplicateUsername {
		result, err = s.reconciler.Reconcile(r.Context(), bag)
	}
	if err != nil {
		s.log.WithError(err).Error("reconciliation failed")
		respondError(w, http.StatusInternalServerError, "Reconciliation failed")
		return
	}

	s.auditResult(source, result)

	switch result.Outcome {
	case reconcile.OutcomeAuthenticated:
		token, expiresAt, err := s.authSvc.generateToken(result.Account.Username, result.Account.Groups, source)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to generate token")
			return
		}
		respondJSON(w, http.StatusOK, SessionResponse{
			Token:     token,
			ExpiresAt: expiresAt,
			Username:  result.Account.Username,
			Groups:    result.Account.Groups,
			Created:   result.Created,
		})
	case reconcile.OutcomeNotAuthenticated:
		respondError(w, http.StatusUnauthorized, "No assertion present")
	default:
		respondJSON(w, http.StatusForbidden, map[string]string{
			"error":  result.RejectReason,
			"reason": result.RejectKind.String(),
		})
	}
}

// auditResult records a reconciliation outcome in the audit log
func (s *Server) auditResult(source string, result reconcile.Result) {
	username := ""
	metadata := map[string]interface{}{"source": source}
	switch result.Outcome {
	case reconcile.OutcomeAuthenticated:
		username = result.Account.Username
		metadata["created"] = result.Created
		metadata["changed"] = result.Changed
		metadata["groups"] = result.Account.Groups
	case reconcile.OutcomeRejected:
		metadata["reason"] = result.RejectKind.String()
		metadata["detail"] = result.RejectReason
	}

	if err := audit.Log(s.config.Logging.AuditLogPath, username, "reconcile", result.Outcome.String(), metadata); err != nil {
		s.log.WithError(err).Warn("failed to write audit log")
	}
}

// generateToken creates a new JWT token for a reconciled identity
func (a *AuthService) generateToken(username string, groups []string, source string) (string, time.Time, error) {
	expiresAt := time.Now().Add(a.config.Auth.TokenExpiry)
	claims := &Claims{
		Username: username,
		Groups:   groups,
		Source:   source,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(a.config.Auth.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// validateToken validates and parses a JWT token
func (a *AuthService) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.config.Auth.JWTSecret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// authMiddleware validates JWT tokens
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondError(w, http.StatusUnauthorized, "Missing authorization header")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			respondError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := s.authSvc.validateToken(parts[1])
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestClaims returns the validated claims stored by authMiddleware
func requestClaims(r *http.Request) *Claims {
	claims, _ := r.Context().Value(claimsContextKey).(*Claims)
	return claims
}
