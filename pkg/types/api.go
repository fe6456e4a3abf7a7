package types

// -----------------------------------------------------------------------------
// Typed Errors (stable categories for programmatic handling)
// -----------------------------------------------------------------------------

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindOutOfMemory ErrKind = iota // frame allocation failed; safe to retry after reclaim
	ErrKindOutOfRange                 // offset/length outside the object's current size
	ErrKindBadState                   // operation incompatible with current configuration
	ErrKindUnsupported                // operation not meaningful for this object kind
	ErrKindExhausted                  // a bounded counter (pin count) saturated
	ErrKindNotFound                   // no content exists where content was required
	ErrKindInternal                   // invariant violation surfaced as an error (tests only)
)

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, ErrOutOfRange) matches wrapped
// instances carrying the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels commonly returned by implementations.
var (
	// ErrOutOfMemory indicates a physical frame could not be allocated.
	// Structural operations guarantee no partial mutation on this path.
	ErrOutOfMemory = &Error{Kind: ErrKindOutOfMemory, Msg: "out of memory"}
	// ErrOutOfRange indicates an offset/length outside the current size.
	ErrOutOfRange = &Error{Kind: ErrKindOutOfRange, Msg: "offset/length out of range"}
	// ErrBadState indicates the operation conflicts with the object's state
	// (pinned pages, pager-backed source for COW, contiguous restrictions).
	ErrBadState = &Error{Kind: ErrKindBadState, Msg: "operation invalid for object state"}
	// ErrUnsupported indicates the operation is not meaningful for this
	// object kind (e.g. decommit on an object with a parent).
	ErrUnsupported = &Error{Kind: ErrKindUnsupported, Msg: "unsupported operation"}
	// ErrExhausted indicates a per-page pin counter saturated.
	ErrExhausted = &Error{Kind: ErrKindExhausted, Msg: "resource counter exhausted"}
	// ErrNotFound indicates no backing content exists where content was
	// required (e.g. pinning a hole without fault-in).
	ErrNotFound = &Error{Kind: ErrKindNotFound, Msg: "no content at offset"}
)

// -----------------------------------------------------------------------------
// Core Identifiers
// -----------------------------------------------------------------------------

// ObjectID is the stable logical identity of a memory object. It carries no
// ownership: holding an ObjectID does not keep the object alive, and the only
// operation on one is lookup through the owning family. Attribution
// bookkeeping records ObjectIDs, never node pointers.
type ObjectID uint64
