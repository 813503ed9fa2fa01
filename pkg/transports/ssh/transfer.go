package ssh

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
)

// Push uploads the local file to remotePath on the remote host. The
// content lands under remotePath+".new" first and is renamed into
// place only after its checksum has been read back and verified, so a
// reader on the remote host never sees a half-written file.
func (c *Client) Push(ctx context.Context, localPath string, remotePath string) (*TransferResult, error) {
	startedAt := time.Now()

	c.log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Msg("uploading file")

	localSum, err := localChecksum(localPath)
	if err != nil {
		return nil, &TransportError{
			Op:  "push",
			Err: fmt.Errorf("failed to checksum local file: %w", err),
		}
	}

	localFile, err := os.Open(localPath)
	if err != nil {
		return nil, &TransportError{
			Op:  "push",
			Err: fmt.Errorf("failed to open local file: %w", err),
		}
	}
	defer localFile.Close()

	sftpClient, err := c.createSFTPClient()
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(filepath.Dir(remotePath)); err != nil {
		return nil, &TransportError{
			Op:  "push",
			Err: fmt.Errorf("failed to create remote directory: %w", err),
		}
	}

	newPath := remotePath + ".new"
	remoteFile, err := sftpClient.Create(newPath)
	if err != nil {
		return nil, &TransportError{
			Op:          "push",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
		}
	}

	written, err := copyWithContext(ctx, remoteFile, localFile)
	if err != nil {
		_ = remoteFile.Close()
		_ = sftpClient.Remove(newPath)
		return nil, &TransportError{
			Op:          "push",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
		}
	}
	if err := remoteFile.Close(); err != nil {
		_ = sftpClient.Remove(newPath)
		return nil, &TransportError{
			Op:          "push",
			Err:         fmt.Errorf("failed to close remote file: %w", err),
			IsTemporary: true,
		}
	}

	if err := sftpClient.Chmod(newPath, 0644); err != nil {
		c.log.Warn().Err(err).Msg("failed to set file permissions")
	}

	remoteSum, err := remoteChecksum(ctx, sftpClient, newPath)
	if err != nil {
		_ = sftpClient.Remove(newPath)
		return nil, &TransportError{
			Op:          "push",
			Err:         fmt.Errorf("failed to checksum remote file: %w", err),
			IsTemporary: true,
		}
	}
	if remoteSum != localSum {
		_ = sftpClient.Remove(newPath)
		return nil, &TransportError{
			Op:          "push",
			Err:         fmt.Errorf("checksum mismatch after upload: local %s, remote %s", localSum, remoteSum),
			IsTemporary: true,
		}
	}

	if err := sftpClient.PosixRename(newPath, remotePath); err != nil {
		// Servers without the posix-rename extension refuse to clobber
		// an existing target; clear it and retry with a plain rename.
		_ = sftpClient.Remove(remotePath)
		if err := sftpClient.Rename(newPath, remotePath); err != nil {
			_ = sftpClient.Remove(newPath)
			return nil, &TransportError{
				Op:          "push",
				Err:         fmt.Errorf("failed to rename remote file: %w", err),
				IsTemporary: true,
			}
		}
	}

	finishedAt := time.Now()

	c.log.Info().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", written).
		Str("checksum", localSum).
		Dur("duration", finishedAt.Sub(startedAt)).
		Msg("file uploaded")

	return &TransferResult{
		Bytes:      written,
		Duration:   finishedAt.Sub(startedAt),
		Checksum:   localSum,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, nil
}

// Pull downloads the remote file at remotePath to localPath, again via
// localPath+".new" with a checksum re-read before the rename, so a
// failed download never replaces the local file.
func (c *Client) Pull(ctx context.Context, remotePath string, localPath string) (*TransferResult, error) {
	startedAt := time.Now()

	c.log.Debug().
		Str("remote", remotePath).
		Str("local", localPath).
		Msg("downloading file")

	sftpClient, err := c.createSFTPClient()
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return nil, &TransportError{
			Op:          "pull",
			Err:         fmt.Errorf("failed to open remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return nil, &TransportError{
			Op:  "pull",
			Err: fmt.Errorf("failed to create local directory: %w", err),
		}
	}

	newPath := localPath + ".new"
	localFile, err := os.OpenFile(newPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, &TransportError{
			Op:  "pull",
			Err: fmt.Errorf("failed to create local file: %w", err),
		}
	}

	hash := sha256.New()
	written, err := copyWithContext(ctx, io.MultiWriter(localFile, hash), remoteFile)
	if err != nil {
		_ = localFile.Close()
		_ = os.Remove(newPath)
		return nil, &TransportError{
			Op:          "pull",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
		}
	}
	if err := localFile.Sync(); err != nil {
		_ = localFile.Close()
		_ = os.Remove(newPath)
		return nil, &TransportError{
			Op:  "pull",
			Err: fmt.Errorf("failed to sync local file: %w", err),
		}
	}
	if err := localFile.Close(); err != nil {
		_ = os.Remove(newPath)
		return nil, &TransportError{
			Op:  "pull",
			Err: fmt.Errorf("failed to close local file: %w", err),
		}
	}

	streamSum := fmt.Sprintf("%x", hash.Sum(nil))
	diskSum, err := localChecksum(newPath)
	if err != nil {
		_ = os.Remove(newPath)
		return nil, &TransportError{
			Op:  "pull",
			Err: fmt.Errorf("failed to checksum local file: %w", err),
		}
	}
	if diskSum != streamSum {
		_ = os.Remove(newPath)
		return nil, &TransportError{
			Op:          "pull",
			Err:         fmt.Errorf("checksum mismatch after download: stream %s, disk %s", streamSum, diskSum),
			IsTemporary: true,
		}
	}

	if err := os.Rename(newPath, localPath); err != nil {
		_ = os.Remove(newPath)
		return nil, &TransportError{
			Op:  "pull",
			Err: fmt.Errorf("failed to rename local file: %w", err),
		}
	}

	finishedAt := time.Now()

	c.log.Info().
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", written).
		Str("checksum", streamSum).
		Dur("duration", finishedAt.Sub(startedAt)).
		Msg("file downloaded")

	return &TransferResult{
		Bytes:      written,
		Duration:   finishedAt.Sub(startedAt),
		Checksum:   streamSum,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, nil
}

// remoteChecksum computes the SHA256 checksum of a remote file by
// streaming it back over SFTP.
func remoteChecksum(ctx context.Context, client *sftp.Client, path string) (string, error) {
	file, err := client.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := copyWithContext(ctx, hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// localChecksum computes the SHA256 checksum of a local file.
func localChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// copyWithContext copies data from src to dst while respecting context
// cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, err := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if err != nil {
				return written, err
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return written, err
		}
	}

	return written, nil
}
