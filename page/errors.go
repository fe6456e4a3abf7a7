package page

import "errors"

var (
	// ErrOutOfMemory indicates that no free frame (or no contiguous run of
	// the requested length) is available.
	ErrOutOfMemory = errors.New("page: out of memory")

	// ErrDoubleFree indicates an attempt to free a frame that is already on
	// the free list.
	ErrDoubleFree = errors.New("page: frame already free")

	// ErrForeignFrame indicates a frame that does not belong to this ledger.
	ErrForeignFrame = errors.New("page: frame not owned by this ledger")

	// ErrBadSize indicates a ledger or reservation size that is zero or
	// exceeds the arena.
	ErrBadSize = errors.New("page: invalid size")
)
