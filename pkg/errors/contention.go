package errors

// ContentionError marks an internal lock-free race loss: a cas_move that
// found the control block had already moved, a cas_root that lost to a
// concurrent writer, or a retain that overshot the saturation margin. These
// never escape the engine's retry loops to the pkg/arbtrie boundary; they
// are typed so retry logic and tests can distinguish "retry this" from
// every other failure mode without string-matching messages.
type ContentionError struct {
	*baseError

	// attempt is the retry attempt number that produced this loss, starting
	// at 0 for the first try.
	attempt int
}

// NewContentionError creates a new contention-specific error.
func NewContentionError(msg string) *ContentionError {
	return &ContentionError{baseError: NewBaseError(nil, ErrorCodeContention, msg)}
}

// WithMessage overrides baseError.WithMessage to preserve the ContentionError
// type across chained calls.
func (ce *ContentionError) WithMessage(msg string) *ContentionError {
	ce.baseError.WithMessage(msg)
	return ce
}

// WithDetail overrides baseError.WithDetail to preserve the ContentionError
// type across chained calls.
func (ce *ContentionError) WithDetail(key string, value any) *ContentionError {
	ce.baseError.WithDetail(key, value)
	return ce
}

// WithAttempt records which retry attempt produced this loss.
func (ce *ContentionError) WithAttempt(attempt int) *ContentionError {
	ce.attempt = attempt
	return ce
}

// Attempt returns the retry attempt number that produced this loss.
func (ce *ContentionError) Attempt() int { return ce.attempt }
