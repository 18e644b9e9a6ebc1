package assertion

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/idbridge/idbridge/internal/config"
	"github.com/idbridge/idbridge/internal/reconcile"
)

// StaticSource serves fixed attribute bags for configured users. Meant for
// development and tests; the password check is the only gate.
type StaticSource struct {
	name  string
	users map[string]config.StaticUser
}

// NewStaticSource creates a static source from configured users
func NewStaticSource(cfg config.SourceConfig) (*StaticSource, error) {
	if len(cfg.Users) == 0 {
		return nil, fmt.Errorf("static source %q has no users", cfg.Name)
	}

	users := make(map[string]config.StaticUser, len(cfg.Users))
	for _, u := range cfg.Users {
		users[strings.ToLower(u.Username)] = u
	}
	return &StaticSource{name: cfg.Name, users: users}, nil
}

// Name returns the source name
func (s *StaticSource) Name() string { return s.name }

// Type returns the source type
func (s *StaticSource) Type() string { return "static" }

// Authenticate checks credentials and returns the user's attribute bag.
func (s *StaticSource) Authenticate(username, password string) (reconcile.AttributeBag, error) {
	user, ok := s.users[strings.ToLower(username)]
	if !ok {
		return nil, fmt.Errorf("invalid credentials")
	}
	if subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) != 1 {
		return nil, fmt.Errorf("invalid credentials")
	}

	bag := make(reconcile.AttributeBag, len(user.Attributes))
	for name, values := range user.Attributes {
		bag[name] = append([]string(nil), values...)
	}
	return bag, nil
}
