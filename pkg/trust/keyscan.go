// Package trust seeds the system-wide SSH known_hosts file with the host
// keys of the code-hosting endpoints the configuration engine pulls from.
package trust

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostScanner obtains a known_hosts line for one endpoint.
type HostScanner interface {
	Scan(ctx context.Context, host string) (string, error)
}

// Scanner performs a live SSH handshake to capture the remote host key.
// The handshake is abandoned after key exchange; no authentication is
// attempted.
type Scanner struct {
	timeout time.Duration
	log     zerolog.Logger
}

// NewScanner returns a scanner bounding each handshake by timeout.
func NewScanner(timeout time.Duration, log zerolog.Logger) *Scanner {
	return &Scanner{
		timeout: timeout,
		log:     log.With().Str("component", "keyscan").Logger(),
	}
}

// Scan dials host (optionally "host:port", default port 22) and returns a
// known_hosts line for its public key.
func (s *Scanner) Scan(ctx context.Context, host string) (string, error) {
	addr := host
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, "22")
	}

	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	var captured ssh.PublicKey
	cfg := &ssh.ClientConfig{
		User: "keyscan",
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			captured = key
			return nil
		},
		Timeout: s.timeout,
	}

	// The handshake fails once the server asks for credentials; by then
	// the host key callback has already fired.
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err == nil {
		_ = ssh.NewClient(sshConn, chans, reqs).Close()
	}
	if captured == nil {
		return "", fmt.Errorf("failed to capture host key for %s: %w", addr, err)
	}

	s.log.Debug().Str("host", host).Str("key_type", captured.Type()).Msg("Captured host key")
	return knownhosts.Line([]string{host}, captured), nil
}
