package vmo

// CreateOptions configures a new root object.
type CreateOptions struct {
	// Size is the initial logical length in bytes. Must be page-aligned and
	// non-zero.
	Size uint64

	// Resizable permits later Resize calls. Incompatible with Contiguous.
	Resizable bool

	// Contiguous commits physically consecutive frames up front and
	// guarantees they keep their addresses for the object's lifetime
	// (DMA-style buffers). Incompatible with Resizable and Pager.
	Contiguous bool

	// Pager supplies page content on demand. Reads and writes that miss
	// resident pages block until the pager calls SupplyPages.
	Pager Pager

	// Mapping receives invalidation callbacks for the whole family. Nil
	// selects NopMapping.
	Mapping Mapping
}

// CloneOptions configures CreateClone.
type CloneOptions struct {
	// Offset/Length select the byte range of the source the clone sees.
	// Both must be page-aligned; the range must fit in the source.
	Offset uint64
	Length uint64

	// CopyOnWrite makes the clone diverge page-by-page from the source.
	// When false, the clone is parented directly to the source without a
	// fork anchor; that form is legal only over pager-backed sources.
	CopyOnWrite bool

	// Resizable permits later Resize calls on the clone.
	Resizable bool
}
