package mwcas

// Build-time sizing knobs.
const (
	// Capacity is the maximum number of target words one descriptor can
	// carry. AddTarget reports false beyond this bound.
	Capacity = 4

	// FinishedDescriptorThreshold is the per-handle buffer size for
	// finalized descriptors awaiting completion and retirement.
	FinishedDescriptorThreshold = 64
)

// Hardware and memory-layout assumptions.
const (
	wordSize      = 8
	cacheLineSize = 64
)
