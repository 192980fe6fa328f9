// Package remote runs shell commands on the check worker.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config holds the transport parameters of the worker.
type Config struct {
	Host           string
	Port           int
	Username       string
	KnownHostsFile string
	PrivateKeyFile string
	DialTimeout    time.Duration
}

// Dialer opens connections to the worker.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is an open connection able to start commands.
type Conn interface {
	// Start launches cmd through the remote shell. A nil stdin sends EOF.
	Start(cmd string, stdin io.Reader) (Process, error)
	Close() error
}

// Process is a command running on the worker. Stdout and Stderr must be
// drained while the process runs.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the command exits and returns its exit status. The
	// error is reserved for transport failures.
	Wait() (int, error)
	// Close tears the process session down and unblocks Wait.
	Close() error
}

// CommandError reports a staging command that exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("remote command %q exited with status %d: %s", e.Command, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// Run executes cmd to completion and returns its stdout. A non-zero exit status
// is reported as *CommandError.
func Run(ctx context.Context, conn Conn, cmd string, stdin io.Reader) ([]byte, error) {
	proc, err := conn.Start(cmd, stdin)
	if err != nil {
		return nil, fmt.Errorf("start %q: %w", cmd, err)
	}
	defer proc.Close() //nolint:errcheck
	stop := context.AfterFunc(ctx, func() { _ = proc.Close() })
	defer stop()

	var stdout, stderr bytes.Buffer
	var code int
	g := new(errgroup.Group)
	g.Go(func() error {
		_, err := io.Copy(&stdout, proc.Stdout())
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&stderr, proc.Stderr())
		return err
	})
	g.Go(func() error {
		var err error
		code, err = proc.Wait()
		return err
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("run %q: %w", cmd, ctxErr)
		}
		return nil, fmt.Errorf("run %q: %w", cmd, err)
	}
	if code != 0 {
		return nil, &CommandError{Command: cmd, ExitCode: code, Stderr: stderr.String()}
	}
	return stdout.Bytes(), nil
}

// Quote wraps s in single quotes for a POSIX shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuoting) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./+=:@,", r)
}
