package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/config"
	"github.com/depmark/depmark/pkg/statefile"
	"github.com/depmark/depmark/pkg/transports/ssh"
)

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy the state file to or from a remote host over SFTP",
		Long: `Copy the state file to or from a remote host over SFTP.

Targets are usually named in the configuration's sync list; an ad-hoc
target can be described entirely through flags. Transfers go to a
temporary file first and are renamed into place, so a dropped
connection never leaves a half-written state file behind.`,
	}

	cmd.AddCommand(newSyncPushCommand())
	cmd.AddCommand(newSyncPullCommand())

	return cmd
}

func newSyncPushCommand() *cobra.Command {
	f := &syncFlags{}

	cmd := &cobra.Command{
		Use:   "push [target]",
		Short: "Upload the local state file to the remote host",
		Example: `  # Push to a configured target
  depmark sync push backup

  # Ad-hoc push
  depmark sync push --host pkg01.example.com --user ops --remote-path /var/lib/depmark/state`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, args, f, "push")
		},
	}

	f.register(cmd)
	return cmd
}

func newSyncPullCommand() *cobra.Command {
	f := &syncFlags{}

	cmd := &cobra.Command{
		Use:   "pull [target]",
		Short: "Download the state file from the remote host",
		Example: `  # Restore from a configured target
  depmark sync pull backup`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, args, f, "pull")
		},
	}

	f.register(cmd)
	return cmd
}

type syncFlags struct {
	host       string
	port       int
	user       string
	keyPath    string
	remote     string
	knownHosts string
	insecure   bool
	timeout    int
}

func (f *syncFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "", "SSH host (overrides the named target)")
	cmd.Flags().IntVar(&f.port, "port", 0, "SSH port")
	cmd.Flags().StringVar(&f.user, "user", "", "SSH user")
	cmd.Flags().StringVar(&f.keyPath, "key", "", "Private key file")
	cmd.Flags().StringVar(&f.remote, "remote-path", "", "State file path on the remote host")
	cmd.Flags().StringVar(&f.knownHosts, "known-hosts", "", "known_hosts file to verify against")
	cmd.Flags().BoolVar(&f.insecure, "insecure-host-key", false, "Skip host key verification")
	cmd.Flags().IntVar(&f.timeout, "connect-timeout", 0, "Connection timeout in seconds")
}

// resolveTarget merges the named configuration target with flag
// overrides; with no name the flags must describe the target fully.
func resolveTarget(cfg *config.Config, args []string, f *syncFlags) (config.SyncTarget, error) {
	var tgt config.SyncTarget
	if len(args) == 1 {
		named, ok := cfg.Target(args[0])
		if !ok {
			return tgt, fmt.Errorf("no sync target named %q", args[0])
		}
		tgt = named
	}

	if f.host != "" {
		tgt.Host = f.host
	}
	if f.port != 0 {
		tgt.Port = f.port
	}
	if f.user != "" {
		tgt.User = f.user
	}
	if f.keyPath != "" {
		tgt.KeyPath = f.keyPath
	}
	if f.remote != "" {
		tgt.RemotePath = f.remote
	}
	if f.knownHosts != "" {
		tgt.KnownHostsFile = f.knownHosts
	}
	if f.insecure {
		tgt.InsecureHostKey = true
	}
	if f.timeout != 0 {
		tgt.ConnectTimeout = f.timeout
	}

	if tgt.Host == "" {
		return tgt, errors.New("no sync target: name a configured one or pass --host")
	}
	if tgt.RemotePath == "" {
		return tgt, errors.New("no remote path: set remote_path on the target or pass --remote-path")
	}
	return tgt, nil
}

func runSync(cmd *cobra.Command, args []string, f *syncFlags, direction string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	tgt, err := resolveTarget(s.cfg, args, f)
	if err != nil {
		return err
	}

	// Pulling replaces the state file under other processes' feet, so
	// it takes the same lock mutating commands do. Pushing only reads
	// what is already on disk.
	if direction == "pull" {
		lock, err := statefile.Acquire(s.cfg.LockPath())
		if err != nil {
			if errors.Is(err, statefile.ErrLocked) {
				return errors.New("state file is locked by another process")
			}
			return err
		}
		defer lock.Release()
	}

	client, err := ssh.NewClient(tgt.SSHConfig(), s.log)
	if err != nil {
		return err
	}
	if err := client.Connect(s.ctx); err != nil {
		s.tel.Metrics.RecordSyncTransfer(direction, "error")
		return fmt.Errorf("connecting to %s: %w", tgt.Host, err)
	}
	defer client.Disconnect()
	if err := client.HealthCheck(s.ctx); err != nil {
		s.tel.Metrics.RecordSyncTransfer(direction, "error")
		return err
	}

	var res *ssh.TransferResult
	if direction == "push" {
		res, err = client.Push(s.ctx, s.cfg.StateFile, tgt.RemotePath)
	} else {
		res, err = client.Pull(s.ctx, tgt.RemotePath, s.cfg.StateFile)
	}
	if err != nil {
		s.tel.Metrics.RecordSyncTransfer(direction, "error")
		return err
	}

	s.tel.Metrics.RecordSyncTransfer(direction, "ok")
	s.tel.Events.PublishSyncCompleted(direction, tgt.Host, res.Bytes, res.Duration)

	if jsonOutput {
		return printJSON(struct {
			Direction string `json:"direction"`
			Host      string `json:"host"`
			Bytes     int64  `json:"bytes"`
			Checksum  string `json:"checksum"`
			Duration  string `json:"duration"`
		}{direction, tgt.Host, res.Bytes, res.Checksum, res.Duration.String()})
	}
	fmt.Printf("%sed %s (%s) in %s\n", direction, humanBytes(res.Bytes), res.Checksum[:12], res.Duration)
	return nil
}
