package types

// ============================================================================
// Engine Limits Constants
// ============================================================================
// These constants bound single memory objects and per-page bookkeeping.
// They exist to keep offset arithmetic overflow-free and the per-page pin
// counter inside its storage width, not to model any particular machine.

const (
	// MaxObjectPages is the maximum size of one memory object in pages
	// (16 TiB of 4 KiB pages). Offsets below this bound cannot overflow
	// uint64 byte arithmetic even after window translation.
	MaxObjectPages = 1 << 32

	// MaxPinCount is the maximum number of simultaneous pins on one page.
	// Pinning past it fails with ErrExhausted.
	MaxPinCount = 1<<16 - 1
)
