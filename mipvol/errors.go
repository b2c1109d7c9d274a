package mipvol

import "errors"

// Error taxonomy shared by every package.  Callers test with errors.Is; errors
// are wrapped with context using fmt.Errorf("...: %w", ...).
var (
	// ErrInvalidLevel is returned when a resolution level is outside the pyramid
	// or a Bbox is used with a level other than the one it is tagged with.  Fatal.
	ErrInvalidLevel = errors.New("invalid resolution level")

	// ErrDegenerateBbox is returned when a conversion produces min > max on an axis.
	// This indicates a pyramid definition bug.  Fatal.
	ErrDegenerateBbox = errors.New("degenerate bounding box")

	// ErrStoreUnavailable marks transient transport errors at the store boundary.
	// Safe to retry with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrShapeMismatch is returned when data disagrees with the extent it should
	// cover.  Fatal.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrIncompatibleVolume is returned when data does not fit an existing volume's
	// resolution, channel count, data type, or bounds.  Fatal.
	ErrIncompatibleVolume = errors.New("incompatible volume")

	// ErrWriteConflict is returned when volume metadata changed incompatibly
	// during an ingest.  The caller must serialize and retry the whole ingest.
	ErrWriteConflict = errors.New("write conflict")

	// ErrAmbiguousOffset is returned when a patch-offset correction cannot be
	// inferred from an odd size difference.  Fatal; supply the offset explicitly.
	ErrAmbiguousOffset = errors.New("ambiguous patch offset")

	// ErrReadLimit is returned when a task would read more source data than it is
	// allowed.  Fatal; use smaller chunks or a smaller downsampling factor.
	ErrReadLimit = errors.New("read exceeds limit")

	// ErrMissingChunk is returned by reads that do not fill missing chunks.
	ErrMissingChunk = errors.New("missing chunk")
)

// IsRetryable returns true if the error is a transient store error.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
