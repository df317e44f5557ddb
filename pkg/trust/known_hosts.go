package trust

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Store manages a known_hosts file, appending scanned host keys for
// endpoints not yet present. Re-running against an already seeded file is
// a no-op.
type Store struct {
	path    string
	scanner HostScanner
	log     zerolog.Logger
}

// NewStore returns a store over the known_hosts file at path.
func NewStore(path string, scanner HostScanner, log zerolog.Logger) *Store {
	return &Store{
		path:    path,
		scanner: scanner,
		log:     log.With().Str("component", "trust").Logger(),
	}
}

// Ensure scans every host missing from the file and appends its key.
func (s *Store) Ensure(ctx context.Context, hosts []string) error {
	existing, err := s.knownHosts()
	if err != nil {
		return err
	}

	var lines []string
	for _, host := range hosts {
		if existing[hostName(host)] {
			s.log.Debug().Str("host", host).Msg("Host key already trusted")
			continue
		}
		line, err := s.scanner.Scan(ctx, host)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", host, err)
		}
		lines = append(lines, line)
		s.log.Info().Str("host", host).Msg("Added host key to trust store")
	}
	if len(lines) == 0 {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open trust store %s: %w", s.path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		return fmt.Errorf("failed to write trust store %s: %w", s.path, err)
	}
	return nil
}

// knownHosts returns the set of host patterns already present.
func (s *Store) knownHosts() (map[string]bool, error) {
	hosts := map[string]bool{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return hosts, nil
		}
		return nil, fmt.Errorf("failed to read trust store %s: %w", s.path, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, pattern := range strings.Split(fields[0], ",") {
			hosts[hostName(pattern)] = true
		}
	}
	return hosts, nil
}

// hostName strips an optional port from "host" or "[host]:port" forms.
func hostName(host string) string {
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
	}
	if i := strings.Index(host, ":"); i > 0 {
		return host[:i]
	}
	return host
}
