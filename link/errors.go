package link

import "errors"

var (
	// ErrTransportUnavailable means the radio is off or absent. It is
	// returned straight to the caller and never retried.
	ErrTransportUnavailable = errors.New("link: transport unavailable")
	// ErrConnectFailed and ErrDiscoverFailed are retried with backoff
	ErrConnectFailed  = errors.New("link: connect failed")
	ErrDiscoverFailed = errors.New("link: discover failed")
	// ErrAckTimeout is reported per item; the queue moves on
	ErrAckTimeout = errors.New("link: ack timeout")
	// ErrChecksumRejected is the peer refusing a bitmap CRC
	ErrChecksumRejected = errors.New("link: checksum rejected")
	ErrDestroyed        = errors.New("link: destroyed")
	ErrNotReady         = errors.New("link: not ready")
	// ErrLinkStale means too many heartbeats or battery polls went unanswered
	ErrLinkStale = errors.New("link: stale")
)
