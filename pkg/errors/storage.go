package errors

// StorageError is a specialized error type for storage-related operations.
// It embeds baseError to inherit all the standard error functionality, then adds
// storage-specific fields that help pinpoint exactly where problems occurred.
type StorageError struct {
	*baseError
	segmentId       int    // Which segment was being accessed when the error occurred.
	offset          int    // Byte offset within the segment where the problem happened.
	fileName        string // Name of the file that caused the issue.
	path            string // Path of the file that caused the issue.
	segmentNumber   uint32 // Segment number, for blockfile/seg errors addressed by segment index rather than ID.
	cachelineOffset uint64 // Cacheline offset within the segment, for control-block location errors.
}

// NewStorageError creates a new storage-specific error.
func NewStorageError(err error, code ErrorCode, msg string) *StorageError {
	return &StorageError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage overrides baseError.WithMessage to preserve the StorageError
// type across chained calls.
func (se *StorageError) WithMessage(msg string) *StorageError {
	se.baseError.WithMessage(msg)
	return se
}

// WithCode overrides baseError.WithCode to preserve the StorageError type
// across chained calls.
func (se *StorageError) WithCode(code ErrorCode) *StorageError {
	se.baseError.WithCode(code)
	return se
}

// WithDetail overrides baseError.WithDetail to preserve the StorageError type
// across chained calls.
func (se *StorageError) WithDetail(key string, value any) *StorageError {
	se.baseError.WithDetail(key, value)
	return se
}

// WithSegmentNumber records the numeric segment index involved in the
// error, distinct from SegmentId which predates segment-number addressing.
func (se *StorageError) WithSegmentNumber(n uint32) *StorageError {
	se.segmentNumber = n
	return se
}

// WithCachelineOffset records the cacheline offset within the segment.
func (se *StorageError) WithCachelineOffset(off uint64) *StorageError {
	se.cachelineOffset = off
	return se
}

// SegmentNumber returns the segment number involved in the error.
func (se *StorageError) SegmentNumber() uint32 { return se.segmentNumber }

// CachelineOffset returns the cacheline offset involved in the error.
func (se *StorageError) CachelineOffset() uint64 { return se.cachelineOffset }

// WithSegmentID sets which storage segment was involved in the error.
func (se *StorageError) WithSegmentID(id int) *StorageError {
	se.segmentId = id
	return se
}

// WithOffset records the byte position where the error occurred.
func (se *StorageError) WithOffset(offset int) *StorageError {
	se.offset = offset
	return se
}

// WithFileName captures which file was being processed when the error occurred.
func (se *StorageError) WithFileName(fileName string) *StorageError {
	se.fileName = fileName
	return se
}

// WithPath captures which path was being processed when the error occurred.
func (se *StorageError) WithPath(path string) *StorageError {
	se.path = path
	return se
}

// SegmentId returns the segment identifier where the error occurred.
func (se *StorageError) SegmentId() int {
	return se.segmentId
}

// Offset returns the byte offset within the segment where the error happened.
// Combined with SegmentId, this gives you the exact location of the problem.
func (se *StorageError) Offset() int {
	return se.offset
}

// FileName returns the name of the file that was being processed.
func (se *StorageError) FileName() string {
	return se.fileName
}

// Path returns the path of the file that was being processed.
func (se *StorageError) Path() string {
	return se.path
}
