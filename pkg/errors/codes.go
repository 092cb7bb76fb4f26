package errors

// ErrorCode represents a standardized way to categorize different types of errors.
type ErrorCode string

// Base error codes represent the fundamental categories of failures that can
// occur across any software system. These codes provide the foundation layer
// of error classification.
const (
	// ErrorCodeIO represents failures in input/output operations across any
	// system boundary. This includes file system operations like reading or
	// writing segment files, network operations when communicating with remote
	// systems, and device I/O when accessing storage hardware.
	ErrorCodeIO ErrorCode = "IO_ERROR"

	// ErrorCodeInvalidInput represents client-side errors where the provided
	// data doesn't meet the system's requirements or constraints. This maps
	// to HTTP 400-series errors and indicates problems with the request itself
	// rather than system failures.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrorCodeInternal represents unexpected system failures that don't fit
	// into other categories. These are the equivalent of HTTP 500 errors and
	// indicate bugs, assertion failures, or other programming errors that
	// shouldn't occur during normal operation.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Storage-specific error codes extend the base error taxonomy to handle the
// unique failure modes that occur in persistent storage systems. These codes
// represent problems that are specific to the storage layer of your key-value
// store, particularly focusing on segment file management and data persistence.
const (
	// ErrorCodeSegmentCorrupted indicates that a segment file's data has been
	// damaged or is in an inconsistent state.
	ErrorCodeSegmentCorrupted ErrorCode = "SEGMENT_CORRUPTED"

	// ErrorCodeHeaderReadFailure occurs when the system cannot read the header
	// portion of a segment file. Headers contain critical metadata about the
	// segment's structure, so header read failures prevent access to the
	// entire segment and all data it contains.
	ErrorCodeHeaderReadFailure ErrorCode = "HEADER_READ_FAILURE"

	// ErrorCodePayloadReadFailure indicates problems reading the actual data
	// content from segment files after successfully reading the header. This
	// represents a more localized failure compared to header problems, as the
	// segment structure is intact but specific data regions are inaccessible.
	ErrorCodePayloadReadFailure ErrorCode = "PAYLOAD_READ_FAILURE"

	// ErrorCodeRecoveryFailed indicates that the storage system's attempt to
	// recover from a previous failure was unsuccessful. This represents a
	// compound failure where both the original problem and the recovery
	// mechanism have failed, creating a more serious operational situation.
	ErrorCodeRecoveryFailed ErrorCode = "STORAGE_RECOVERY_FAILED"

	// ErrorCodePermissionDenied indicates insufficient permissions to access a resource.
	// This is distinct from generic IO errors because it has a specific resolution path:
	// the user needs to adjust file/directory permissions or run with elevated privileges.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrorCodeDiskFull indicates that the storage device has run out of space.
	// This requires specific handling like cleanup operations or alerting administrators.
	ErrorCodeDiskFull ErrorCode = "DISK_FULL"

	// ErrorCodeFilesystemReadonly indicates that the filesystem is mounted read-only.
	// This requires administrative intervention to remount the filesystem with write permissions.
	ErrorCodeFilesystemReadonly ErrorCode = "FILESYSTEM_READONLY"
)

// Index-specific error codes. "Index" here means the in-memory addressing
// structures that sit above storage: the control-block table and the trie
// engine that walks it, not a disk-resident secondary index.
const (
	// ErrorCodeIndexKeyNotFound indicates a point lookup or cursor seek found
	// no entry for the requested key. Treated as a normal return value at the
	// pkg/arbtrie boundary, not surfaced as an error there.
	ErrorCodeIndexKeyNotFound ErrorCode = "INDEX_KEY_NOT_FOUND"

	// ErrorCodeIndexInvalidSegmentID indicates a control block or node header
	// referenced a segment number outside the allocator's known range.
	ErrorCodeIndexInvalidSegmentID ErrorCode = "INDEX_INVALID_SEGMENT_ID"

	// ErrorCodeIndexTimestampExtraction indicates a segment filename could not
	// be parsed into its sequence and timestamp components.
	ErrorCodeIndexTimestampExtraction ErrorCode = "INDEX_TIMESTAMP_EXTRACTION_FAILED"

	// ErrorCodeIndexCorrupted indicates an invariant of the reachability graph
	// (acyclicity, ref >= 1, prefix consistency) was violated.
	ErrorCodeIndexCorrupted ErrorCode = "INDEX_CORRUPTED"
)

// Capacity error codes (spec §7: "Capacity"). These surface as failures of
// the triggering operation; the database remains consistent afterward.
const (
	// ErrorCodeAddressSpaceExhausted indicates the 32-bit logical address
	// space (2^32 control blocks) has been fully allocated.
	ErrorCodeAddressSpaceExhausted ErrorCode = "ADDRESS_SPACE_EXHAUSTED"

	// ErrorCodeKeyTooLong indicates a key exceeded the 1024-byte maximum.
	ErrorCodeKeyTooLong ErrorCode = "KEY_TOO_LONG"

	// ErrorCodeValueTooLarge indicates a value exceeded the maximum object
	// size (half a segment, 16 MiB).
	ErrorCodeValueTooLarge ErrorCode = "VALUE_TOO_LARGE"

	// ErrorCodeDatabaseSizeCapReached indicates the block file has grown to
	// the configured MaxDatabaseSize and no further segments can be added.
	ErrorCodeDatabaseSizeCapReached ErrorCode = "DATABASE_SIZE_CAP_REACHED"
)

// Corruption error codes (spec §7: "Corruption" — always fatal).
const (
	// ErrorCodeChecksumMismatch indicates an object or commit checksum did
	// not match its recorded value during a validated scan.
	ErrorCodeChecksumMismatch ErrorCode = "CHECKSUM_MISMATCH"

	// ErrorCodeMagicMismatch indicates the block file's magic header did not
	// match the configuration the engine was opened with.
	ErrorCodeMagicMismatch ErrorCode = "MAGIC_MISMATCH"

	// ErrorCodeControlBlockInvalidState indicates a control block was found
	// in a state its invariants forbid (e.g. ref > 0 with an undefined
	// offset, or a non-free control block pointing at a dead object).
	ErrorCodeControlBlockInvalidState ErrorCode = "CONTROL_BLOCK_INVALID_STATE"
)

// Contention error codes (spec §7: "Contention" — always internal, always
// retried; never surfaced across the pkg/arbtrie boundary).
const (
	// ErrorCodeContention indicates a lock-free CAS (cas_move, cas_root) or a
	// retain lost its race and must be retried by the caller.
	ErrorCodeContention ErrorCode = "CONTENTION"
)

// ErrorCodeNotFound is the generic not-found code shared by any lookup path
// that doesn't need index-specific context.
const ErrorCodeNotFound ErrorCode = "NOT_FOUND"
