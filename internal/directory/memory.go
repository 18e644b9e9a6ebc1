package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-memory account store. A single mutex covers the
// find-else-create window, so concurrent first logins for the same identity
// cannot produce two accounts.
type MemoryDirectory struct {
	mu       sync.Mutex
	accounts map[string]*LocalAccount // keyed by ID
	byName   map[string]string        // lower(username) -> ID
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		accounts: make(map[string]*LocalAccount),
		byName:   make(map[string]string),
	}
}

// FindByName looks up an account ID by username, case-insensitively.
func (d *MemoryDirectory) FindByName(ctx context.Context, username string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.byName[strings.ToLower(username)]
	return id, ok, nil
}

// Load returns a copy of the account record.
func (d *MemoryDirectory) Load(ctx context.Context, id string) (*LocalAccount, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	acct, ok := d.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *acct
	cp.Groups = append([]string(nil), acct.Groups...)
	return &cp, nil
}

// Create stores a new account and returns its generated ID.
func (d *MemoryDirectory) Create(ctx context.Context, acct *LocalAccount) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := strings.ToLower(acct.Username)
	if _, exists := d.byName[key]; exists {
		return "", ErrDuplicateUsername
	}

	id := uuid.New().String()
	cp := *acct
	cp.ID = id
	cp.Groups = append([]string(nil), acct.Groups...)
	d.accounts[id] = &cp
	d.byName[key] = id

	acct.ID = id
	return id, nil
}

// Save persists changes to an existing account.
func (d *MemoryDirectory) Save(ctx context.Context, acct *LocalAccount) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored, ok := d.accounts[acct.ID]
	if !ok {
		return ErrNotFound
	}

	// Username changes re-key the name index.
	oldKey := strings.ToLower(stored.Username)
	newKey := strings.ToLower(acct.Username)
	if oldKey != newKey {
		if _, exists := d.byName[newKey]; exists {
			return ErrDuplicateUsername
		}
		delete(d.byName, oldKey)
		d.byName[newKey] = acct.ID
	}

	cp := *acct
	cp.Groups = append([]string(nil), acct.Groups...)
	d.accounts[acct.ID] = &cp
	return nil
}
