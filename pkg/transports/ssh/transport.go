// Package ssh moves the selections overlay between the local machine
// and remote hosts over SSH/SFTP. It is the transport behind the sync
// push and pull commands: one connection per target, a health check,
// and checksum-verified file transfer in both directions.
package ssh

import (
	"context"
	"time"
)

// Transport is the connection and transfer surface used by the sync
// commands.
type Transport interface {
	// Connect establishes an SSH connection to the remote host.
	// Returns an error if connection fails or authentication is rejected.
	Connect(ctx context.Context) error

	// Disconnect closes the SSH connection and releases all resources.
	Disconnect() error

	// IsConnected returns true if the transport has an active connection.
	IsConnected() bool

	// HealthCheck verifies the connection is still alive and responsive.
	HealthCheck(ctx context.Context) error

	// Push uploads the local file to remotePath on the remote host.
	Push(ctx context.Context, localPath string, remotePath string) (*TransferResult, error)

	// Pull downloads the remote file at remotePath to localPath.
	Pull(ctx context.Context, remotePath string, localPath string) (*TransferResult, error)

	// GetConnectionInfo returns information about the current connection.
	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port number
	Port int

	// User is the SSH username
	User string

	// ConnectedAt is when the connection was established
	ConnectedAt time.Time
}

// TransferResult describes one completed push or pull.
type TransferResult struct {
	// Bytes is the number of bytes transferred
	Bytes int64

	// Duration is the time taken for the transfer
	Duration time.Duration

	// Checksum is the SHA256 checksum of the transferred file
	Checksum string

	// StartedAt is when the transfer started
	StartedAt time.Time

	// FinishedAt is when the transfer completed
	FinishedAt time.Time
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "push", "pull")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
