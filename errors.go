package horstbeacon

import "fmt"

// ErrorKind classifies an Error per spec.md §7. Errors are explicit values
// returned to callers, never exceptions.
type ErrorKind uint8

const (
	// SignatureShapeError: malformed wire structure (wrong K, wrong path
	// length, leaf index out of range). Fatal for the single message;
	// logged and skipped by the caller.
	SignatureShapeError ErrorKind = iota

	// StateIoError: failure reading or writing the persisted state
	// file. Fatal at startup; logged-and-continue at runtime.
	StateIoError

	// TransportError: surfaced from the transport collaborator. The
	// core logs and resumes on the next message.
	TransportError

	// IdentityMergeViolation: an SCC ties together three or more
	// disjoint identities in one step. Fatal.
	IdentityMergeViolation

	// GraphInvariantError: a trust-graph bookkeeping invariant failed
	// (index out of sync with the graph, etc). Fatal.
	GraphInvariantError
)

func (k ErrorKind) String() string {
	switch k {
	case SignatureShapeError:
		return "SignatureShapeError"
	case StateIoError:
		return "StateIoError"
	case TransportError:
		return "TransportError"
	case IdentityMergeViolation:
		return "IdentityMergeViolation"
	case GraphInvariantError:
		return "GraphInvariantError"
	default:
		return "UnknownError"
	}
}

// Error is the interface implemented by every error value this module
// returns, mirroring the teacher's Error{error; Locked() bool; Inner()
// error} shape with Locked() generalized to Kind() ErrorKind.
type Error interface {
	error
	Kind() ErrorKind
	Inner() error
}

type errorImpl struct {
	msg   string
	kind  ErrorKind
	inner error
}

func (err *errorImpl) Kind() ErrorKind { return err.kind }
func (err *errorImpl) Inner() error    { return err.inner }

func (err *errorImpl) Error() string {
	if err.inner != nil {
		return fmt.Sprintf("%s: %s: %s", err.kind, err.msg, err.inner.Error())
	}
	return fmt.Sprintf("%s: %s", err.kind, err.msg)
}

// errorf formats a new Error of kind SignatureShapeError (the zero
// ErrorKind). Most call sites use errKindf instead; errorf exists for
// internal validation errors (e.g. Params.Validate).
func errorf(format string, a ...interface{}) *errorImpl {
	return &errorImpl{msg: fmt.Sprintf(format, a...), kind: SignatureShapeError}
}

// errKindf formats a new Error of the given kind.
func errKindf(kind ErrorKind, format string, a ...interface{}) *errorImpl {
	return &errorImpl{msg: fmt.Sprintf(format, a...), kind: kind}
}

// wrapErrKindf formats a new Error of the given kind wrapping another.
func wrapErrKindf(kind ErrorKind, err error, format string, a ...interface{}) *errorImpl {
	return &errorImpl{msg: fmt.Sprintf(format, a...), kind: kind, inner: err}
}
