package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/reforge/reforge/pkg/identity"
)

func newTestInventory(t *testing.T) (*Inventory, string) {
	t.Helper()
	dir := t.TempDir()
	inv := NewInventory(filepath.Join(dir, "hosts"), filepath.Join(dir, "group_vars"),
		&fakeFetcher{objects: map[string]string{}}, 30*time.Second, zerolog.Nop())
	return inv, dir
}

func TestEnsureGroupAppends(t *testing.T) {
	inv, dir := newTestInventory(t)

	if err := inv.EnsureGroup("all"); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}
	if err := inv.EnsureGroup("shop-web"); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "hosts"))
	if err != nil {
		t.Fatal(err)
	}
	want := "[all]\nlocalhost\n[shop-web]\nlocalhost\n"
	if string(data) != want {
		t.Errorf("inventory = %q, want %q", data, want)
	}
}

func TestEnsureGroupIdempotent(t *testing.T) {
	inv, dir := newTestInventory(t)

	for i := 0; i < 3; i++ {
		if err := inv.EnsureGroup("shop"); err != nil {
			t.Fatalf("EnsureGroup() #%d error = %v", i, err)
		}
	}

	data, _ := os.ReadFile(filepath.Join(dir, "hosts"))
	if n := strings.Count(string(data), "[shop]"); n != 1 {
		t.Errorf("[shop] appears %d times, want 1", n)
	}
}

func TestEnsureGroupPreservesExistingContent(t *testing.T) {
	inv, dir := newTestInventory(t)
	seed := "[db]\ndb1.internal\ndb2.internal"
	if err := os.WriteFile(filepath.Join(dir, "hosts"), []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := inv.EnsureGroup("shop"); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "hosts"))
	if !strings.HasPrefix(string(data), seed+"\n") {
		t.Errorf("existing inventory not preserved:\n%s", data)
	}
	if !strings.Contains(string(data), "[shop]\nlocalhost\n") {
		t.Errorf("new group missing:\n%s", data)
	}
}

func TestWriteIdentityVars(t *testing.T) {
	inv, dir := newTestInventory(t)
	id := identity.Identity{Project: "shop", Roles: []string{"web", "worker"}, Environment: "staging"}

	if err := inv.WriteIdentityVars(id); err != nil {
		t.Fatalf("WriteIdentityVars() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "group_vars", "local.yml"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"project: shop", "system_role: web", "environment_tier: staging"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("identity vars missing %q:\n%s", want, data)
		}
	}
}

func TestWriteIdentityVarsOmitsEmptyFields(t *testing.T) {
	inv, dir := newTestInventory(t)
	id := identity.Identity{Project: "shop", Roles: []string{"web"}}

	if err := inv.WriteIdentityVars(id); err != nil {
		t.Fatalf("WriteIdentityVars() error = %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "group_vars", "local.yml"))
	if strings.Contains(string(data), "environment_tier") {
		t.Errorf("empty environment written:\n%s", data)
	}
}
