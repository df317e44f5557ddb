package layer

import (
	"reflect"
	"testing"

	"github.com/reforge/reforge/pkg/identity"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name string
		id   identity.Identity
		want []Path
	}{
		{
			name: "single role",
			id:   identity.Identity{Project: "shop", Roles: []string{"web"}},
			want: []Path{"", "shop/", "shop/web/"},
		},
		{
			name: "multiple roles sort by path length",
			id:   identity.Identity{Project: "shop", Roles: []string{"web", "db"}},
			want: []Path{"", "shop/", "shop/db/", "shop/web/"},
		},
		{
			name: "equal-length roles keep discovery order",
			id:   identity.Identity{Project: "shop", Roles: []string{"web", "api"}},
			want: []Path{"", "shop/", "shop/web/", "shop/api/"},
		},
		{
			name: "duplicate roles collapse",
			id:   identity.Identity{Project: "shop", Roles: []string{"web", "web"}},
			want: []Path{"", "shop/", "shop/web/"},
		},
		{
			name: "no project yields root only",
			id:   identity.Identity{},
			want: []Path{""},
		},
		{
			name: "project without roles",
			id:   identity.Identity{Project: "shop"},
			want: []Path{"", "shop/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.id)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Plan() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanOrderedByPathLength(t *testing.T) {
	// Shorter paths always run first: the db layer precedes the web layer
	// even though the web role was discovered before it.
	got := Plan(identity.Identity{Project: "shop", Roles: []string{"web", "db"}})
	for i := 1; i < len(got); i++ {
		if len(got[i]) < len(got[i-1]) {
			t.Fatalf("Plan() = %v: %q precedes shorter %q", got, got[i-1], got[i])
		}
	}
}

func TestPlanRootAlwaysFirst(t *testing.T) {
	got := Plan(identity.Identity{Project: "a", Roles: []string{"b", "c", "d"}})
	if len(got) == 0 || got[0] != Root {
		t.Fatalf("Plan() = %v, want root layer first", got)
	}
}

func TestPlanSizeAndUniqueness(t *testing.T) {
	// n distinct roles plus a distinct project always yields n+2 unique
	// entries.
	id := identity.Identity{Project: "shop", Roles: []string{"web", "db", "cache"}}
	got := Plan(id)
	if want := len(id.Roles) + 2; len(got) != want {
		t.Fatalf("Plan() returned %d entries, want %d", len(got), want)
	}
	seen := make(map[Path]bool)
	for _, p := range got {
		if seen[p] {
			t.Errorf("duplicate path %q in plan", p)
		}
		seen[p] = true
	}
}

func TestPlanIdempotent(t *testing.T) {
	id := identity.Identity{Project: "shop", Roles: []string{"web", "db"}}
	first := Plan(id)
	second := Plan(id)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Plan() is not idempotent: %v vs %v", first, second)
	}
}
