package reconcile

import (
	"fmt"

	"github.com/idbridge/idbridge/internal/directory"
)

// Outcome classifies the result of a reconciliation pass.
type Outcome int

const (
	// OutcomeNotAuthenticated means no assertion was present. Not an error.
	OutcomeNotAuthenticated Outcome = iota

	// OutcomeAuthenticated means the assertion was reconciled to a local account.
	OutcomeAuthenticated

	// OutcomeRejected means an assertion was present but reconciliation
	// could not proceed.
	OutcomeRejected
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeNotAuthenticated:
		return "not_authenticated"
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// RejectKind identifies why a reconciliation pass was rejected. Callers can
// switch on it to render a specific message.
type RejectKind int

const (
	// RejectNone is the zero value; set only on non-rejected results.
	RejectNone RejectKind = iota

	// RejectMissingUsername means the username attribute was absent or empty.
	RejectMissingUsername

	// RejectMissingMail means the mail attribute is required by policy but absent.
	RejectMissingMail

	// RejectInvalidUsername means the canonical username failed the
	// usable-username syntax check.
	RejectInvalidUsername

	// RejectUserDoesNotExist means the account was not found and automatic
	// creation is disabled.
	RejectUserDoesNotExist

	// RejectDuplicateUsername means account creation raced with another
	// login for the same identity. The caller may retry the whole
	// reconciliation once.
	RejectDuplicateUsername

	// RejectAccountBlocked means the local account exists but is blocked.
	RejectAccountBlocked
)

// String returns a stable identifier for the reject kind.
func (k RejectKind) String() string {
	switch k {
	case RejectNone:
		return "none"
	case RejectMissingUsername:
		return "missing_username_attribute"
	case RejectMissingMail:
		return "missing_mail_attribute"
	case RejectInvalidUsername:
		return "invalid_username_syntax"
	case RejectUserDoesNotExist:
		return "user_does_not_exist"
	case RejectDuplicateUsername:
		return "duplicate_username"
	case RejectAccountBlocked:
		return "account_blocked"
	default:
		return fmt.Sprintf("reject(%d)", int(k))
	}
}

// Result is the typed outcome of a reconciliation pass. Fatal conditions
// are reported here, never raised across the reconciliation boundary.
type Result struct {
	Outcome Outcome

	// Account is set only when Outcome is OutcomeAuthenticated.
	Account *directory.LocalAccount

	// Created reports whether the account was created during this pass.
	Created bool

	// Changed reports whether profile or group membership changed and was
	// persisted during this pass.
	Changed bool

	// RejectKind and RejectReason are set only when Outcome is OutcomeRejected.
	RejectKind   RejectKind
	RejectReason string
}

func notAuthenticated() Result {
	return Result{Outcome: OutcomeNotAuthenticated}
}

func rejected(kind RejectKind, format string, args ...interface{}) Result {
	return Result{
		Outcome:      OutcomeRejected,
		RejectKind:   kind,
		RejectReason: fmt.Sprintf(format, args...),
	}
}
