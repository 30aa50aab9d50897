package verifier

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/netsift/netsift"
)

// DefaultPort is the SSH port used when the host carries none.
const DefaultPort = 22

// Credentials is a transient username/password pair. It travels by value,
// is wiped as soon as the transport is established, and must never be
// stored, logged, or echoed into errors.
type Credentials struct {
	Username string
	Password string
}

func (c *Credentials) wipe() {
	c.Username, c.Password = "", ""
}

// Dialer opens a command transport to a device. Tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, host string, creds Credentials) (Conn, error)
}

// Conn is an established device transport.
type Conn interface {
	// Run executes one command and returns its output, honoring the context
	// deadline.
	Run(ctx context.Context, cmd string) (string, error)
	Close() error
}

// SSHDialer opens password-authenticated SSH transports.
//
// Host keys are not verified: inventory devices are reached by address on
// management networks, where no pinned key material exists before first
// contact.
type SSHDialer struct {
	// Port overrides DefaultPort for hosts without an explicit one.
	Port int
	// Timeout bounds the TCP dial and the SSH handshake. Zero means 10s.
	Timeout time.Duration
}

var _ Dialer = (*SSHDialer)(nil)

// Dial implements Dialer.
func (d *SSHDialer) Dial(ctx context.Context, host string, creds Credentials) (Conn, error) {
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	cfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(creds.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
	creds.wipe()

	addr := ensurePortSuffix(host, port)
	nd := net.Dialer{Timeout: timeout}
	tcpconn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &netsift.Error{
			Op:      "dial",
			Kind:    netsift.ErrUpstream,
			Message: "device unreachable",
			Inner:   err,
		}
	}
	// Bound the handshake too; the ssh package only applies cfg.Timeout to
	// some phases.
	dl := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(dl) {
		dl = d
	}
	tcpconn.SetDeadline(dl)
	conn, chans, reqs, err := ssh.NewClientConn(tcpconn, addr, cfg)
	if err != nil {
		tcpconn.Close()
		return nil, &netsift.Error{
			Op:      "dial",
			Kind:    netsift.ErrUpstream,
			Message: "ssh handshake failed",
			Inner:   err,
		}
	}
	tcpconn.SetDeadline(time.Time{})
	return &sshConn{client: ssh.NewClient(conn, chans, reqs), raw: tcpconn}, nil
}

type sshConn struct {
	client *ssh.Client
	raw    net.Conn
}

// Run executes one command in its own exec session.
func (c *sshConn) Run(ctx context.Context, cmd string) (string, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("unable to open session: %w", err)
	}
	defer sess.Close()
	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()
	select {
	case err := <-done:
		if err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return "", fmt.Errorf("%q failed: %w", cmd, err)
			}
			return "", fmt.Errorf("%q failed: %s: %w", cmd, msg, err)
		}
		return stdout.String(), nil
	case <-ctx.Done():
		// Force the pending read to fail so the session goroutine exits,
		// then restore the connection for the caller's cleanup path.
		c.raw.SetReadDeadline(time.Now())
		<-done
		c.raw.SetReadDeadline(time.Time{})
		return "", context.Cause(ctx)
	}
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

// ensurePortSuffix adds the port to a host that carries none, bracketing
// bare IPv6 addresses.
func ensurePortSuffix(host string, port int) string {
	switch {
	case !strings.Contains(host, ":"):
		return fmt.Sprintf("%s:%d", host, port)
	case strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]"):
		return fmt.Sprintf("%s:%d", host, port)
	case strings.HasPrefix(host, "[") && strings.Contains(host, "]:"):
		return host
	case strings.Count(host, ":") > 1:
		return fmt.Sprintf("[%s]:%d", host, port)
	default:
		return host
	}
}
