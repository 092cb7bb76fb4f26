package errors

// CorruptionError is a specialized error type for data-integrity failures:
// a checksum mismatch, an impossible control-block state, or a magic-header
// mismatch at open time. The spec this error taxonomy implements treats
// corruption as fatal — the process is expected to log, close its mappings,
// and abort rather than attempt to mask the failure, so every constructor
// here leaves Fatal() returning true.
type CorruptionError struct {
	*baseError

	// objectAddress identifies the control-block address of the object whose
	// invariant was violated, if the corruption was discovered mid-walk.
	objectAddress uint32

	// segmentNumber identifies which segment the corrupt bytes live in.
	segmentNumber uint32

	// expectedChecksum and actualChecksum record the mismatch that triggered
	// the error, when the corruption is a checksum failure specifically.
	expectedChecksum uint64
	actualChecksum   uint64
}

// NewCorruptionError creates a new corruption-specific error.
func NewCorruptionError(err error, code ErrorCode, msg string) *CorruptionError {
	return &CorruptionError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage overrides baseError.WithMessage to preserve the CorruptionError
// type across chained calls.
func (ce *CorruptionError) WithMessage(msg string) *CorruptionError {
	ce.baseError.WithMessage(msg)
	return ce
}

// WithCode overrides baseError.WithCode to preserve the CorruptionError type
// across chained calls.
func (ce *CorruptionError) WithCode(code ErrorCode) *CorruptionError {
	ce.baseError.WithCode(code)
	return ce
}

// WithDetail overrides baseError.WithDetail to preserve the CorruptionError
// type across chained calls, so errors.As can still recover it after a full
// With* chain.
func (ce *CorruptionError) WithDetail(key string, value any) *CorruptionError {
	ce.baseError.WithDetail(key, value)
	return ce
}

// WithObjectAddress records which control-block address was involved.
func (ce *CorruptionError) WithObjectAddress(addr uint32) *CorruptionError {
	ce.objectAddress = addr
	return ce
}

// WithSegmentNumber records which segment the corrupt bytes live in.
func (ce *CorruptionError) WithSegmentNumber(segment uint32) *CorruptionError {
	ce.segmentNumber = segment
	return ce
}

// WithChecksums records the expected vs. actual checksum values.
func (ce *CorruptionError) WithChecksums(expected, actual uint64) *CorruptionError {
	ce.expectedChecksum = expected
	ce.actualChecksum = actual
	return ce
}

// ObjectAddress returns the control-block address involved, if any.
func (ce *CorruptionError) ObjectAddress() uint32 { return ce.objectAddress }

// SegmentNumber returns the segment number involved.
func (ce *CorruptionError) SegmentNumber() uint32 { return ce.segmentNumber }

// Checksums returns the expected and actual checksum values that mismatched.
func (ce *CorruptionError) Checksums() (expected, actual uint64) {
	return ce.expectedChecksum, ce.actualChecksum
}

// Fatal reports whether the process should treat this error as
// unrecoverable. Corruption is always fatal: a corruption failure from the
// compactor means the running process can no longer trust its invariants.
func (ce *CorruptionError) Fatal() bool { return true }
