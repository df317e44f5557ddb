package trust

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fakeScanner struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeScanner) Scan(_ context.Context, host string) (string, error) {
	f.calls = append(f.calls, host)
	if f.fail[host] {
		return "", fmt.Errorf("connection refused")
	}
	return host + " ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIFake", nil
}

func TestEnsureAppendsMissingHosts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	scanner := &fakeScanner{}
	store := NewStore(path, scanner, zerolog.Nop())

	hosts := []string{"github.com", "bitbucket.org"}
	if err := store.Ensure(context.Background(), hosts); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading trust store: %v", err)
	}
	for _, host := range hosts {
		if !strings.Contains(string(data), host+" ssh-ed25519") {
			t.Errorf("trust store missing entry for %s:\n%s", host, data)
		}
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	scanner := &fakeScanner{}
	store := NewStore(path, scanner, zerolog.Nop())

	hosts := []string{"github.com"}
	for i := 0; i < 3; i++ {
		if err := store.Ensure(context.Background(), hosts); err != nil {
			t.Fatalf("Ensure() #%d error = %v", i, err)
		}
	}

	if len(scanner.calls) != 1 {
		t.Errorf("scan calls = %d, want 1", len(scanner.calls))
	}
	data, _ := os.ReadFile(path)
	if n := strings.Count(string(data), "github.com"); n != 1 {
		t.Errorf("github.com appears %d times, want 1", n)
	}
}

func TestEnsureSkipsPreexistingEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	seed := "# system entries\ngithub.com,140.82.121.3 ssh-rsa AAAAB3Existing\n"
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	scanner := &fakeScanner{}
	store := NewStore(path, scanner, zerolog.Nop())
	if err := store.Ensure(context.Background(), []string{"github.com", "bitbucket.org"}); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	if len(scanner.calls) != 1 || scanner.calls[0] != "bitbucket.org" {
		t.Errorf("scan calls = %v, want only bitbucket.org", scanner.calls)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), seed) {
		t.Error("existing content was rewritten")
	}
}

func TestEnsureScanFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	scanner := &fakeScanner{fail: map[string]bool{"github.com": true}}
	store := NewStore(path, scanner, zerolog.Nop())

	if err := store.Ensure(context.Background(), []string{"github.com"}); err == nil {
		t.Fatal("Ensure() = nil, want error when scan fails")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("trust store created despite scan failure")
	}
}

func TestHostName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"github.com", "github.com"},
		{"github.com:22", "github.com"},
		{"[gitea.internal]:2222", "gitea.internal"},
	}
	for _, tt := range tests {
		if got := hostName(tt.in); got != tt.want {
			t.Errorf("hostName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
