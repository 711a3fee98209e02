package dlcore

import "errors"

var (
	// ErrDownloadNotFound is returned when an operation references an id
	// that no longer (or never did) identify a download.
	ErrDownloadNotFound = errors.New("download not found")
	// ErrQueueNotFound is returned when an operation references an unknown
	// queue id.
	ErrQueueNotFound = errors.New("queue not found")
	// ErrCategoryNotFound is returned when an operation references an
	// unknown category id.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrDefaultQueueImmutable is returned on any attempt to delete the
	// default queue.
	ErrDefaultQueueImmutable = errors.New("the default queue cannot be deleted")

	// ErrInvalidTransition is returned when a requested status transition
	// is not allowed by the download state machine.
	ErrInvalidTransition = errors.New("invalid download state transition")

	// ErrFileExists reports that a file already exists at a destination
	// path. ResolveDestination does not return it; it appends a numbered
	// suffix instead.
	ErrFileExists = errors.New("file already exists at destination path")

	// ErrNoRangeSupport reports a server without byte-range support. The
	// transport probe does not return it; it sets
	// ProbeResult.AcceptsRanges to false instead.
	ErrNoRangeSupport = errors.New("server does not support range requests")

	// ErrDirectoryNotFound, ErrNotADirectory and ErrDirectoryNotWritable
	// are returned by EnsureWritableDir for an unusable destination
	// directory.
	ErrDirectoryNotFound    = errors.New("destination directory does not exist")
	ErrNotADirectory        = errors.New("destination path is not a directory")
	ErrDirectoryNotWritable = errors.New("destination directory is not writable")

	// ErrContentLengthInvalid is returned when a Content-Length or
	// Content-Range header cannot be parsed.
	ErrContentLengthInvalid = errors.New("content length is invalid")

	// ErrSegmentCorruption reports segment byte accounting that went
	// negative. No function in this package returns it.
	ErrSegmentCorruption = errors.New("segment byte accounting corrupted")
)

// ErrorKind classifies an error the way callers (HTTP layer, retry policy,
// supervisor) need to act on it. NetworkTransient is
// retried, the rest are terminal except Cancelled.
type ErrorKind int

const (
	// KindNetworkTransient covers timeouts, 5xx, 429, connection reset.
	KindNetworkTransient ErrorKind = iota
	// KindClientPermanent covers 4xx other than 408/429, DNS failures,
	// malformed URLs.
	KindClientPermanent
	// KindContentChanged covers size/ETag/Last-Modified mismatches
	// detected on a resumed probe.
	KindContentChanged
	// KindIoError covers disk-full, permission-denied, and similar local
	// filesystem failures.
	KindIoError
	// KindCancelled covers user-initiated stops; never a failure.
	KindCancelled
	// KindInvariantViolation covers internal bugs that should be
	// unreachable.
	KindInvariantViolation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetworkTransient:
		return "network_transient"
	case KindClientPermanent:
		return "client_permanent"
	case KindContentChanged:
		return "content_changed"
	case KindIoError:
		return "io_error"
	case KindCancelled:
		return "cancelled"
	case KindInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Retryable reports whether the supervisor should schedule another attempt
// for an error of this kind.
func (k ErrorKind) Retryable() bool {
	return k == KindNetworkTransient
}

// Fatal reports whether the error kind immediately fails the download
// (as opposed to retrying or simply pausing).
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindClientPermanent, KindContentChanged, KindIoError, KindInvariantViolation:
		return true
	default:
		return false
	}
}

// ClassifiedError pairs an underlying error with the kind the supervisor
// should treat it as.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (c *ClassifiedError) Error() string {
	return c.Kind.String() + ": " + c.Err.Error()
}

func (c *ClassifiedError) Unwrap() error {
	return c.Err
}

// Classify wraps err with an explicit kind. Transport and file-writer code
// call this at the point an error originates, since that is where the most
// context (HTTP status, syscall errno) is available.
func Classify(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is a
// *ClassifiedError, defaulting to KindInvariantViolation for anything that
// was never classified -- an unclassified error reaching the supervisor is
// itself a bug.
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInvariantViolation
}
