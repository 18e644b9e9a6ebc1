package reconcile

import (
	"context"
	"strings"
	"testing"

	"github.com/idbridge/idbridge/internal/config"
	"github.com/idbridge/idbridge/internal/directory"
)

// countingDirectory wraps a directory and counts writes, so tests can
// assert that a pass with no changes does not touch the store.
type countingDirectory struct {
	directory.Directory
	creates int
	saves   int
}

func (d *countingDirectory) Create(ctx context.Context, acct *directory.LocalAccount) (string, error) {
	d.creates++
	return d.Directory.Create(ctx, acct)
}

func (d *countingDirectory) Save(ctx context.Context, acct *directory.LocalAccount) error {
	d.saves++
	return d.Directory.Save(ctx, acct)
}

// alwaysDuplicateDirectory simulates losing the find-else-create race.
type alwaysDuplicateDirectory struct {
	directory.Directory
}

func (d *alwaysDuplicateDirectory) Create(ctx context.Context, acct *directory.LocalAccount) (string, error) {
	return "", directory.ErrDuplicateUsername
}

func basePolicy() config.PolicyConfig {
	return config.PolicyConfig{
		UsernameAttr:       "uid",
		RealNameAttr:       "cn",
		MailAttr:           "mail",
		CreateUsers:        true,
		ConfirmSyncedEmail: true,
	}
}

func newTestReconciler(t *testing.T, dir directory.Directory, policy config.PolicyConfig) *Reconciler {
	t.Helper()
	r, err := NewReconciler(dir, policy, nil)
	if err != nil {
		t.Fatalf("NewReconciler failed: %v", err)
	}
	return r
}

func TestReconcileNilBag(t *testing.T) {
	r := newTestReconciler(t, directory.NewMemoryDirectory(), basePolicy())

	result, err := r.Reconcile(context.Background(), nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Outcome != OutcomeNotAuthenticated {
		t.Errorf("expected not_authenticated, got %s", result.Outcome)
	}
}

func TestReconcileCreatesAccount(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	r := newTestReconciler(t, dir, basePolicy())

	bag := AttributeBag{
		"uid":  {"ada"},
		"cn":   {"Ada Lovelace"},
		"mail": {"ada@example.com"},
	}

	result, err := r.Reconcile(context.Background(), bag)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Outcome != OutcomeAuthenticated {
		t.Fatalf("expected authenticated, got %s (%s)", result.Outcome, result.RejectReason)
	}
	if !result.Created || !result.Changed {
		t.Errorf("expected created and changed, got created=%t changed=%t", result.Created, result.Changed)
	}

	acct := result.Account
	if acct.Username != "Ada" {
		t.Errorf("expected canonical username Ada, got %q", acct.Username)
	}
	if acct.RealName != "Ada Lovelace" {
		t.Errorf("unexpected realname %q", acct.RealName)
	}
	if acct.Email != "ada@example.com" || !acct.EmailConfirmed {
		t.Errorf("expected confirmed synced email, got %q confirmed=%t", acct.Email, acct.EmailConfirmed)
	}
	if !strings.HasPrefix(acct.PasswordHash, "!") {
		t.Errorf("expected an unusable password, got %q", acct.PasswordHash)
	}

	// The account must actually be in the directory.
	id, found, err := dir.FindByName(context.Background(), "Ada")
	if err != nil || !found {
		t.Fatalf("account not findable after creation: found=%t err=%v", found, err)
	}
	if id != acct.ID {
		t.Errorf("directory ID %q does not match result ID %q", id, acct.ID)
	}
}

func TestReconcileUnconfirmedEmailWithoutConfirmPolicy(t *testing.T) {
	policy := basePolicy()
	policy.ConfirmSyncedEmail = false
	r := newTestReconciler(t, directory.NewMemoryDirectory(), policy)

	bag := AttributeBag{"uid": {"ada"}, "mail": {"ada@example.com"}}
	result, err := r.Reconcile(context.Background(), bag)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Account.EmailConfirmed {
		t.Error("email should stay unconfirmed when confirm_synced_email is off")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	dir := &countingDirectory{Directory: directory.NewMemoryDirectory()}
	policy := basePolicy()
	policy.GroupRules = []config.GroupRule{
		{Group: "staff", Match: []config.AttributeMatch{
			{Attribute: "affiliation", Values: []string{"employee"}},
		}},
	}
	r := newTestReconciler(t, dir, policy)

	bag := AttributeBag{
		"uid":         {"ada"},
		"cn":          {"Ada Lovelace"},
		"mail":        {"ada@example.com"},
		"affiliation": {"employee"},
	}

	first, err := r.Reconcile(context.Background(), bag)
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if !first.Created {
		t.Fatal("first pass should create the account")
	}

	second, err := r.Reconcile(context.Background(), bag)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if second.Created || second.Changed {
		t.Errorf("second pass must be a no-op, got created=%t changed=%t", second.Created, second.Changed)
	}
	if dir.creates != 1 {
		t.Errorf("expected exactly one create, got %d", dir.creates)
	}
	if dir.saves != 0 {
		t.Errorf("no-op pass must not call Save, got %d calls", dir.saves)
	}
	if !second.Account.InGroup("staff") {
		t.Error("group membership lost on second pass")
	}
}

func TestReconcileRejections(t *testing.T) {
	blockedDir := directory.NewMemoryDirectory()
	if _, err := blockedDir.Create(context.Background(), &directory.LocalAccount{
		Username: "Grace",
		Blocked:  true,
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	noCreate := basePolicy()
	noCreate.CreateUsers = false

	mailRequired := basePolicy()
	mailRequired.MailRequired = true

	tests := []struct {
		name   string
		dir    directory.Directory
		policy config.PolicyConfig
		bag    AttributeBag
		want   RejectKind
	}{
		{
			name:   "missing username attribute",
			dir:    directory.NewMemoryDirectory(),
			policy: basePolicy(),
			bag:    AttributeBag{"cn": {"Ada Lovelace"}},
			want:   RejectMissingUsername,
		},
		{
			name:   "empty username attribute",
			dir:    directory.NewMemoryDirectory(),
			policy: basePolicy(),
			bag:    AttributeBag{"uid": {}},
			want:   RejectMissingUsername,
		},
		{
			name:   "missing required mail",
			dir:    directory.NewMemoryDirectory(),
			policy: mailRequired,
			bag:    AttributeBag{"uid": {"ada"}},
			want:   RejectMissingMail,
		},
		{
			name:   "invalid username syntax",
			dir:    directory.NewMemoryDirectory(),
			policy: basePolicy(),
			bag:    AttributeBag{"uid": {"ada[0]"}},
			want:   RejectInvalidUsername,
		},
		{
			name:   "creation disabled",
			dir:    directory.NewMemoryDirectory(),
			policy: noCreate,
			bag:    AttributeBag{"uid": {"ada"}},
			want:   RejectUserDoesNotExist,
		},
		{
			name:   "blocked account",
			dir:    blockedDir,
			policy: basePolicy(),
			bag:    AttributeBag{"uid": {"grace"}},
			want:   RejectAccountBlocked,
		},
		{
			name:   "lost creation race",
			dir:    &alwaysDuplicateDirectory{Directory: directory.NewMemoryDirectory()},
			policy: basePolicy(),
			bag:    AttributeBag{"uid": {"ada"}},
			want:   RejectDuplicateUsername,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReconciler(t, tt.dir, tt.policy)
			result, err := r.Reconcile(context.Background(), tt.bag)
			if err != nil {
				t.Fatalf("Reconcile failed: %v", err)
			}
			if result.Outcome != OutcomeRejected {
				t.Fatalf("expected rejection, got %s", result.Outcome)
			}
			if result.RejectKind != tt.want {
				t.Errorf("expected %s, got %s", tt.want, result.RejectKind)
			}
			if result.RejectReason == "" {
				t.Error("rejection must carry a reason")
			}
		})
	}
}

func TestReconcileRejectionLeavesDirectoryUntouched(t *testing.T) {
	dir := &countingDirectory{Directory: directory.NewMemoryDirectory()}
	r := newTestReconciler(t, dir, basePolicy())

	result, err := r.Reconcile(context.Background(), AttributeBag{"cn": {"No Username"}})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Outcome != OutcomeRejected {
		t.Fatalf("expected rejection, got %s", result.Outcome)
	}
	if dir.creates != 0 || dir.saves != 0 {
		t.Errorf("rejected pass must not write, got creates=%d saves=%d", dir.creates, dir.saves)
	}
}

func TestReconcileMultiValuedUsesFirst(t *testing.T) {
	r := newTestReconciler(t, directory.NewMemoryDirectory(), basePolicy())

	bag := AttributeBag{
		"uid":  {"ada", "countess"},
		"mail": {"ada@example.com", "ada@backup.example.com"},
	}
	result, err := r.Reconcile(context.Background(), bag)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Account.Username != "Ada" {
		t.Errorf("expected first uid value, got %q", result.Account.Username)
	}
	if result.Account.Email != "ada@example.com" {
		t.Errorf("expected first mail value, got %q", result.Account.Email)
	}
}

func TestReconcileEmailResync(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	r := newTestReconciler(t, dir, basePolicy())

	bag := AttributeBag{"uid": {"ada"}, "mail": {"ada@example.com"}}
	if _, err := r.Reconcile(context.Background(), bag); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}

	// The provider hands out a different address later.
	bag["mail"] = []string{"lovelace@example.com"}
	result, err := r.Reconcile(context.Background(), bag)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if !result.Changed {
		t.Error("changed address must be persisted")
	}
	if result.Account.Email != "lovelace@example.com" || !result.Account.EmailConfirmed {
		t.Errorf("expected resynced confirmed email, got %q confirmed=%t",
			result.Account.Email, result.Account.EmailConfirmed)
	}
}
