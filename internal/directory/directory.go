package directory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrNotFound is returned when an account cannot be located by ID.
var ErrNotFound = errors.New("account not found")

// ErrDuplicateUsername is returned by Create when another account with the
// same canonical username already exists. Callers racing on first login see
// this instead of a second account.
var ErrDuplicateUsername = errors.New("duplicate username")

// LocalAccount represents a resolvable identity in the local directory.
// The ID is opaque and absent until the account has been created.
type LocalAccount struct {
	ID             string
	Username       string
	RealName       string
	Email          string
	EmailConfirmed bool
	Blocked        bool
	PasswordHash   string
	Groups         []string
}

// Directory is the account store collaborator. Implementations must
// serialize conflicting writes to the same username: concurrent Create
// calls for one identity yield one account and ErrDuplicateUsername for
// the losers.
type Directory interface {
	// FindByName looks up an account ID by exact canonical username.
	FindByName(ctx context.Context, username string) (string, bool, error)

	// Load returns the full account record for an ID.
	Load(ctx context.Context, id string) (*LocalAccount, error)

	// Create persists a new account and returns its ID.
	Create(ctx context.Context, acct *LocalAccount) (string, error)

	// Save persists changes to an existing account.
	Save(ctx context.Context, acct *LocalAccount) error
}

// InGroup reports whether the account is a member of the given group.
func (a *LocalAccount) InGroup(group string) bool {
	for _, g := range a.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// AddGroup adds the account to a group. Returns true if membership changed.
func (a *LocalAccount) AddGroup(group string) bool {
	if a.InGroup(group) {
		return false
	}
	a.Groups = append(a.Groups, group)
	sort.Strings(a.Groups)
	return true
}

// RemoveGroup removes the account from a group. Returns true if membership changed.
func (a *LocalAccount) RemoveGroup(group string) bool {
	for i, g := range a.Groups {
		if g == group {
			a.Groups = append(a.Groups[:i], a.Groups[i+1:]...)
			return true
		}
	}
	return false
}

// Canonicalize normalizes a raw username attribute value to the directory's
// canonical capitalization: the first rune is upper-cased, the rest is kept
// as provided.
func Canonicalize(name string) string {
	if name == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

// usernameForbidden lists characters that are never usable in a username.
const usernameForbidden = "#<>[]|{}/@:"

// ValidUsername reports whether a canonical username passes the directory's
// usable-username syntax check.
func ValidUsername(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	if strings.TrimSpace(name) != name {
		return false
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return false
		}
		if strings.ContainsRune(usernameForbidden, r) {
			return false
		}
	}
	return true
}

// UnusablePassword returns a randomized credential that can never match a
// supplied password. Accounts created from external assertions get one so
// password login stays impossible.
func UnusablePassword() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate credential: %w", err)
	}
	// Leading "!" marks the hash as locked, same convention as locked
	// system accounts.
	return "!" + hex.EncodeToString(buf), nil
}
