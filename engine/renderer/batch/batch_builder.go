package batch

import "github.com/charmbracelet/log"

// BatchBuilderOption is a functional option used to configure a Batch during construction.
type BatchBuilderOption func(*batch)

// WithLabel sets the debug label used for the batch and its device resources.
//
// Parameters:
//   - label: the label
//
// Returns:
//   - BatchBuilderOption: a function that sets the label
func WithLabel(label string) BatchBuilderOption {
	return func(b *batch) {
		b.label = label
	}
}

// WithLogger replaces the logger the batch reports construction and flushes to.
//
// Parameters:
//   - logger: the logger
//
// Returns:
//   - BatchBuilderOption: a function that sets the logger
func WithLogger(logger *log.Logger) BatchBuilderOption {
	return func(b *batch) {
		b.logger = logger
	}
}

// WithCoalescing selects whether Flush merges contiguous dirty regions into one write.
// Coalescing is on by default; without it every dirty region is written separately.
//
// Parameters:
//   - enabled: whether to coalesce
//
// Returns:
//   - BatchBuilderOption: a function that sets the flush strategy
func WithCoalescing(enabled bool) BatchBuilderOption {
	return func(b *batch) {
		b.coalesce = enabled
	}
}
