package reliability

import (
	"context"
	"errors"
	"fmt"
)

// Kind buckets engine failures for handling, metrics, and operator phrasing.
type Kind string

const (
	// KindConfig marks invalid operator input: unknown project, bad schedule
	// fields, unparseable approval mode. Rejected at the boundary.
	KindConfig Kind = "config"
	// KindExecutor marks an agent launch, exit, or parse failure.
	KindExecutor Kind = "executor"
	// KindExecTimeout marks an agent run that exceeded the overall deadline.
	KindExecTimeout Kind = "exec_timeout"
	// KindApprovalTimeout marks an approval prompt nobody answered in time.
	KindApprovalTimeout Kind = "approval_timeout"
	// KindPersistence marks a failed durability write. Never fatal: in-memory
	// state stays authoritative and there is no automatic retry.
	KindPersistence Kind = "persistence"
)

func (k Kind) String() string { return string(k) }

// Fault tags an underlying error with a Kind.
type Fault struct {
	Kind Kind
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: kind, Err: err}
}

// Configf builds a config-kind fault from a format string.
func Configf(format string, args ...any) error {
	return &Fault{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

// Classify maps any error to its fault kind. Untagged context deadline
// expiry counts as an execution timeout; everything else untagged is an
// executor failure.
func Classify(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindExecTimeout
	}
	return KindExecutor
}

// IsKind reports whether err carries the given fault kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && Classify(err) == kind
}
