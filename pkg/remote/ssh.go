package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHDialer connects to the worker with public key authentication and strict
// host key checking.
type SSHDialer struct {
	addr        string
	dialTimeout time.Duration
	config      *ssh.ClientConfig
}

// NewSSHDialer loads the private key and known hosts file.
func NewSSHDialer(cfg Config) (*SSHDialer, error) {
	keyData, err := os.ReadFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	hostKeys, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return &SSHDialer{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		dialTimeout: cfg.DialTimeout,
		config: &ssh.ClientConfig{
			User:            cfg.Username,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeys,
			Timeout:         cfg.DialTimeout,
		},
	}, nil
}

// Dial opens an authenticated connection. Cancelling ctx aborts the handshake.
func (d *SSHDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := net.Dialer{Timeout: d.dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.addr, err)
	}
	if d.dialTimeout > 0 {
		_ = netConn.SetDeadline(time.Now().Add(d.dialTimeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = netConn.Close() })
	clientConn, chans, reqs, err := ssh.NewClientConn(netConn, d.addr, d.config)
	if !stop() || err != nil {
		_ = netConn.Close()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("ssh handshake with %s: %w", d.addr, err)
	}
	_ = netConn.SetDeadline(time.Time{})
	return &sshConn{client: ssh.NewClient(clientConn, chans, reqs)}, nil
}

type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) Start(cmd string, stdin io.Reader) (Process, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	session.Stdin = stdin
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := session.Start(cmd); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("start command: %w", err)
	}
	return &sshProcess{session: session, stdout: stdout, stderr: stderr}, nil
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

type sshProcess struct {
	session *ssh.Session
	stdout  io.Reader
	stderr  io.Reader
}

func (p *sshProcess) Stdout() io.Reader { return p.stdout }

func (p *sshProcess) Stderr() io.Reader { return p.stderr }

func (p *sshProcess) Wait() (int, error) {
	err := p.session.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, err
}

func (p *sshProcess) Close() error {
	if err := p.session.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
