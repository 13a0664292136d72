package web3

import (
	"errors"
	"fmt"

	"github.com/vocdoni/verifier-deployer/artifacts"
)

// Kind classifies a deployment failure. The process exit code does not
// depend on it, but logs and tests do.
type Kind int

const (
	KindUnclassified Kind = iota
	KindNoSignerAvailable
	KindBlueprintNotFound
	KindSubmission
	KindTransactionReverted
	KindConfirmationTimeout
)

// Sentinel errors, one per Kind. Every *Error unwraps to the sentinel of
// its kind, so callers can use errors.Is.
var (
	ErrUnclassified        = errors.New("unclassified deployment failure")
	ErrNoSignerAvailable   = errors.New("no signer available")
	ErrBlueprintNotFound   = errors.New("blueprint not found")
	ErrSubmission          = errors.New("creation transaction rejected")
	ErrTransactionReverted = errors.New("creation transaction reverted")
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrNotConfirmed is returned when reading the address of a contract
	// whose creation has not been confirmed yet.
	ErrNotConfirmed = errors.New("deployment not confirmed")
	// ErrAlreadyRun is returned by Run when the deployer has already been used.
	ErrAlreadyRun = errors.New("deployer already run")
)

var kindNames = map[Kind]string{
	KindUnclassified:        "Unclassified",
	KindNoSignerAvailable:   "NoSignerAvailable",
	KindBlueprintNotFound:   "BlueprintNotFound",
	KindSubmission:          "SubmissionError",
	KindTransactionReverted: "TransactionReverted",
	KindConfirmationTimeout: "ConfirmationTimeout",
}

var kindSentinels = map[Kind]error{
	KindUnclassified:        ErrUnclassified,
	KindNoSignerAvailable:   ErrNoSignerAvailable,
	KindBlueprintNotFound:   ErrBlueprintNotFound,
	KindSubmission:          ErrSubmission,
	KindTransactionReverted: ErrTransactionReverted,
	KindConfirmationTimeout: ErrConfirmationTimeout,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the failure returned by every Deployer operation. Stage is the
// last stage reached before the failure.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (after %s): %v", e.Kind, e.Stage, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	sentinel, ok := kindSentinels[e.Kind]
	if !ok {
		sentinel = ErrUnclassified
	}
	return []error{sentinel, e.Err}
}

// KindOf returns the failure kind of any error, KindUnclassified if it does
// not belong to the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnclassified
	}
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	if errors.Is(err, artifacts.ErrBlueprintNotFound) {
		return KindBlueprintNotFound
	}
	for kind, sentinel := range kindSentinels {
		if kind != KindUnclassified && errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnclassified
}
