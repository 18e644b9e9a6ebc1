// Package reconcile derives a local account and its group memberships from
// the attribute bag of an external identity assertion.
//
// A pass runs strictly one direction: validate attributes, resolve or
// create the account, synchronize the profile, evaluate group rules, then
// commit once. Reconciler instances hold no per-request state and are safe
// for concurrent use; duplicate-account races on first login are handled by
// the directory collaborator and surface as a typed rejection.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/idbridge/idbridge/internal/config"
	"github.com/idbridge/idbridge/internal/directory"
)

// Reconciler maps assertion attribute bags to local accounts.
type Reconciler struct {
	dir    directory.Directory
	policy config.PolicyConfig
	groups *groupEvaluator
	log    logrus.FieldLogger
}

// NewReconciler creates a reconciler for the given directory and policy.
// Group regex rules are compiled here; invalid patterns fail construction.
func NewReconciler(dir directory.Directory, policy config.PolicyConfig, log logrus.FieldLogger) (*Reconciler, error) {
	if policy.UsernameAttr == "" {
		return nil, fmt.Errorf("policy username_attr is required")
	}
	groups, err := compileGroupRules(policy)
	if err != nil {
		return nil, fmt.Errorf("failed to compile group rules: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{
		dir:    dir,
		policy: policy,
		groups: groups,
		log:    log,
	}, nil
}

// Reconcile runs a single reconciliation pass for one assertion. A nil bag
// means no assertion is present and yields OutcomeNotAuthenticated. All
// policy rejections come back as a typed Result; the error return is
// reserved for directory failures.
func (r *Reconciler) Reconcile(ctx context.Context, bag AttributeBag) (Result, error) {
	if bag == nil {
		return notAuthenticated(), nil
	}

	prof, rej, ok := r.extractProfile(bag)
	if !ok {
		return rej, nil
	}

	username := directory.Canonicalize(prof.username)
	if !directory.ValidUsername(username) {
		return rejected(RejectInvalidUsername, "username %q is not usable", username), nil
	}

	acct, created, rej, err := r.resolve(ctx, username)
	if err != nil {
		return Result{}, err
	}
	if rej.Outcome == OutcomeRejected {
		return rej, nil
	}

	changed := r.syncProfile(acct, prof)
	if r.groups.apply(acct, bag) {
		changed = true
	}

	if created {
		if _, err := r.dir.Create(ctx, acct); err != nil {
			if errors.Is(err, directory.ErrDuplicateUsername) {
				return rejected(RejectDuplicateUsername,
					"account %q was created concurrently", username), nil
			}
			return Result{}, fmt.Errorf("failed to create account %q: %w", username, err)
		}
		r.log.WithFields(logrus.Fields{
			"username": username,
			"groups":   acct.Groups,
		}).Info("created account from assertion")
		return Result{
			Outcome: OutcomeAuthenticated,
			Account: acct,
			Created: true,
			Changed: true,
		}, nil
	}

	if changed {
		if err := r.dir.Save(ctx, acct); err != nil {
			return Result{}, fmt.Errorf("failed to save account %q: %w", username, err)
		}
	}

	return Result{
		Outcome: OutcomeAuthenticated,
		Account: acct,
		Changed: changed,
	}, nil
}

// resolve maps a canonical username to an account, constructing an unsaved
// one when creation is allowed. A rejection is reported through the Result;
// the account is nil in that case.
func (r *Reconciler) resolve(ctx context.Context, username string) (*directory.LocalAccount, bool, Result, error) {
	id, found, err := r.dir.FindByName(ctx, username)
	if err != nil {
		return nil, false, Result{}, fmt.Errorf("failed to look up account %q: %w", username, err)
	}

	if found {
		acct, err := r.dir.Load(ctx, id)
		if err != nil {
			return nil, false, Result{}, fmt.Errorf("failed to load account %q: %w", username, err)
		}
		if acct.Blocked {
			return nil, false, rejected(RejectAccountBlocked, "account %q is blocked", username), nil
		}
		return acct, false, Result{}, nil
	}

	if !r.policy.CreateUsers {
		return nil, false, rejected(RejectUserDoesNotExist,
			"account %q does not exist and automatic creation is disabled", username), nil
	}

	password, err := directory.UnusablePassword()
	if err != nil {
		return nil, false, Result{}, err
	}
	acct := &directory.LocalAccount{
		Username:     username,
		PasswordHash: password,
	}
	return acct, true, Result{}, nil
}

// syncProfile applies validated realname/mail values to the account.
// Returns true if anything changed. An unconfirmed email keeps syncing
// until it matches and gets confirmed; a confirmed one is left alone unless
// the attribute value differs.
func (r *Reconciler) syncProfile(acct *directory.LocalAccount, prof profile) bool {
	changed := false

	if prof.hasRealName && acct.RealName != prof.realName {
		acct.RealName = prof.realName
		changed = true
	}

	if prof.hasMail {
		confirming := !acct.EmailConfirmed && r.policy.ConfirmSyncedEmail
		if acct.Email != prof.mail || confirming {
			acct.Email = prof.mail
			if r.policy.ConfirmSyncedEmail {
				acct.EmailConfirmed = true
			}
			changed = true
		}
	}

	return changed
}
