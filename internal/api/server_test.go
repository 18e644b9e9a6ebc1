package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/idbridge/idbridge/internal/config"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	cfg, err := config.ParseConfig([]byte(`
server:
  port: 8080
auth:
  jwt_secret: test-secret
  token_expiry: 1h
policy:
  username_attr: uid
  realname_attr: cn
  mail_attr: mail
  create_users: true
  confirm_synced_email: true
  group_rules:
    - group: staff
      match:
        - attribute: affiliation
          values: [employee]
sources:
  - name: dev
    type: static
    enabled: true
    users:
      - username: ada
        password: hunter2
        attributes:
          uid: [ada]
          cn: [Ada Lovelace]
          mail: [ada@example.com]
          affiliation: [employee]
      - username: broken
        password: hunter2
        attributes:
          cn: [No Username]
directory:
  type: memory
`))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	cfg.Logging.AuditLogPath = filepath.Join(t.TempDir(), "audit.log")

	srv, err := NewServer(cfg, nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, srv *Server, username, password string) SessionResponse {
	t.Helper()

	rec := doJSON(t, srv, "POST", "/api/login", "", LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}
	var session SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session
}

func TestLoginReconcilesAndIssuesToken(t *testing.T) {
	srv := testServer(t)

	session := login(t, srv, "ada", "hunter2")
	if session.Username != "Ada" {
		t.Errorf("username = %q, want canonical Ada", session.Username)
	}
	if !session.Created {
		t.Error("first login should create the account")
	}
	if len(session.Groups) != 1 || session.Groups[0] != "staff" {
		t.Errorf("groups = %v, want [staff]", session.Groups)
	}
	if session.Token == "" {
		t.Fatal("expected a session token")
	}

	// Second login: same account, not created again.
	again := login(t, srv, "ada", "hunter2")
	if again.Created {
		t.Error("second login must not report created")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := testServer(t)

	rec := doJSON(t, srv, "POST", "/api/login", "", LoginRequest{Username: "ada", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestLoginRejectedAssertion(t *testing.T) {
	srv := testServer(t)

	// "broken" authenticates but its bag has no username attribute.
	rec := doJSON(t, srv, "POST", "/api/login", "", LoginRequest{Username: "broken", Password: "hunter2"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["reason"] != "missing_username_attribute" {
		t.Errorf("reason = %q", body["reason"])
	}
}

func TestWhoami(t *testing.T) {
	srv := testServer(t)
	session := login(t, srv, "ada", "hunter2")

	rec := doJSON(t, srv, "GET", "/api/whoami", session.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("whoami returned %d: %s", rec.Code, rec.Body.String())
	}
	var who WhoamiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &who); err != nil {
		t.Fatalf("decode whoami: %v", err)
	}
	if who.Username != "Ada" || who.Source != "dev" {
		t.Errorf("unexpected identity: %+v", who)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"malformed header", "Token abc"},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestReconcileEndpoint(t *testing.T) {
	srv := testServer(t)
	session := login(t, srv, "ada", "hunter2")

	rec := doJSON(t, srv, "POST", "/api/reconcile", session.Token, ReconcileRequest{
		Attributes: map[string][]string{
			"uid":  {"grace"},
			"cn":   {"Grace Hopper"},
			"mail": {"grace@example.com"},
		},
		Source: "provisioning",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile returned %d: %s", rec.Code, rec.Body.String())
	}
	var created SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Username != "Grace" || !created.Created {
		t.Errorf("unexpected result: %+v", created)
	}
}

func TestReconcileEndpointRequiresAttributes(t *testing.T) {
	srv := testServer(t)
	session := login(t, srv, "ada", "hunter2")

	rec := doJSON(t, srv, "POST", "/api/reconcile", session.Token, ReconcileRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	rec := doJSON(t, srv, "GET", "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestTokenValidation(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenExpiry = time.Hour

	svc := NewAuthService(cfg)
	token, _, err := svc.generateToken("Ada", []string{"staff"}, "dev")
	if err != nil {
		t.Fatalf("generateToken failed: %v", err)
	}

	claims, err := svc.validateToken(token)
	if err != nil {
		t.Fatalf("validateToken failed: %v", err)
	}
	if claims.Username != "Ada" || claims.Source != "dev" {
		t.Errorf("unexpected claims: %+v", claims)
	}

	// A token signed with another secret is rejected.
	other := NewAuthService(&config.Config{})
	other.config.Auth.JWTSecret = "other-secret"
	forged, _, err := other.generateToken("Ada", nil, "dev")
	if err != nil {
		t.Fatalf("generateToken failed: %v", err)
	}
	if _, err := svc.validateToken(forged); err == nil {
		t.Error("token signed with a different secret must be rejected")
	}
}
