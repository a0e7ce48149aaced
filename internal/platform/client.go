// Package platform defines the seam to the external chat-platform client
// library. The relay core never speaks the wire protocol itself; it only
// drives these interfaces.
package platform

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors the relay core branches on. Implementations wrap these so
// callers can classify failures with errors.Is.
var (
	// ErrUnauthorized means the stored credential was revoked upstream; the
	// user must re-authenticate before any further transfer.
	ErrUnauthorized = errors.New("platform: session unauthorized")

	// ErrTransient marks infrastructure hiccups (network blips, flood waits)
	// that are safe to retry a bounded number of times.
	ErrTransient = errors.New("platform: transient error")

	// ErrSizeUnknown is returned by ProbeSize when the platform cannot
	// determine the media size up front.
	ErrSizeUnknown = errors.New("platform: size unknown")
)

// Client authenticates users and hands back live connections.
type Client interface {
	// Authenticate establishes a session for the user from the stored
	// credential string. Returns ErrUnauthorized (wrapped) when the
	// credential is no longer valid.
	Authenticate(ctx context.Context, userID int64, credential string) (Conn, error)
}

// Conn is one authenticated session to the platform, exclusively owned by a
// single user. I/O calls must not be interleaved by concurrent tasks.
type Conn interface {
	// Authorized re-checks that the session is still valid upstream.
	Authorized(ctx context.Context) bool

	// ProbeSize resolves the byte size of the referenced media.
	ProbeSize(ctx context.Context, sourceRef string) (int64, error)

	// ReadChunk downloads up to length bytes starting at offset. A short
	// read past the end of the media returns the remaining bytes; a read at
	// or past the end returns io.EOF.
	ReadChunk(ctx context.Context, sourceRef string, offset, length int64, connections int) ([]byte, error)

	// WriteChunks streams the artifact to the destination.
	WriteChunks(ctx context.Context, destRef string, r io.Reader, connections int) error

	// Close tears the session down and releases its native buffers.
	Close() error
}
