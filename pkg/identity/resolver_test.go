package identity

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

type fakeSource struct {
	tags      map[string]string
	tagErr    error
	groups    []string
	groupsErr error
}

func (f *fakeSource) Tag(_ context.Context, key string) (string, bool, error) {
	if f.tagErr != nil {
		return "", false, f.tagErr
	}
	v, ok := f.tags[key]
	return v, ok, nil
}

func (f *fakeSource) SecurityGroups(_ context.Context) ([]string, error) {
	return f.groups, f.groupsErr
}

func newTestResolver(src Source) *Resolver {
	return NewResolver(src, zerolog.Nop())
}

func TestResolveFromTags(t *testing.T) {
	src := &fakeSource{tags: map[string]string{
		TagProject:     "shop",
		TagRole:        "web",
		TagEnvironment: "prod",
	}}

	id, err := newTestResolver(src).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.Project != "shop" || id.Environment != "prod" {
		t.Errorf("Resolve() = %+v, want project=shop environment=prod", id)
	}
	if !reflect.DeepEqual(id.Roles, []string{"web"}) {
		t.Errorf("Roles = %v, want [web]", id.Roles)
	}
	if id.Origins.Project != OriginTag || id.Origins.Role != OriginTag {
		t.Errorf("Origins = %+v, want tag provenance", id.Origins)
	}
}

func TestResolveInfersFromSecurityGroups(t *testing.T) {
	src := &fakeSource{groups: []string{"shop-web"}}

	id, err := newTestResolver(src).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.Project != "shop" {
		t.Errorf("Project = %q, want shop", id.Project)
	}
	if !reflect.DeepEqual(id.Roles, []string{"web"}) {
		t.Errorf("Roles = %v, want [web]", id.Roles)
	}
	if id.Origins.Project != OriginInferred || id.Origins.Role != OriginInferred {
		t.Errorf("Origins = %+v, want security-group provenance", id.Origins)
	}
	if id.Environment != "" || id.Origins.Environment != OriginNone {
		t.Errorf("Environment = %q (origin %q), want unset", id.Environment, id.Origins.Environment)
	}
}

func TestResolveTagsWinOverInference(t *testing.T) {
	src := &fakeSource{
		tags:   map[string]string{TagProject: "shop", TagRole: "web"},
		groups: []string{"other-db"},
	}

	id, err := newTestResolver(src).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.Project != "shop" || !reflect.DeepEqual(id.Roles, []string{"web"}) {
		t.Errorf("Resolve() = %+v, tags must win over inference", id)
	}
}

func TestResolvePartialTagsUseInference(t *testing.T) {
	// Project tagged, role missing: inference fills only the role.
	src := &fakeSource{
		tags:   map[string]string{TagProject: "shop"},
		groups: []string{"shop-web", "shop-db"},
	}

	id, err := newTestResolver(src).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.Origins.Project != OriginTag {
		t.Errorf("Project origin = %q, want tag", id.Origins.Project)
	}
	if !reflect.DeepEqual(id.Roles, []string{"web", "db"}) {
		t.Errorf("Roles = %v, want [web db]", id.Roles)
	}
}

func TestResolveGroupPattern(t *testing.T) {
	tests := []struct {
		group       string
		wantProject string
		wantRole    string
	}{
		{"shop-web", "shop", "web"},
		{"eu-shop-web", "eu-shop", "web"},
		{"sg default", "", ""},
	}

	for _, tt := range tests {
		m := groupPattern.FindStringSubmatch(tt.group)
		if tt.wantProject == "" {
			if m != nil {
				t.Errorf("pattern matched %q, want no match", tt.group)
			}
			continue
		}
		if m == nil {
			t.Errorf("pattern did not match %q", tt.group)
			continue
		}
		if m[1] != tt.wantProject || m[2] != tt.wantRole {
			t.Errorf("match(%q) = (%q, %q), want (%q, %q)", tt.group, m[1], m[2], tt.wantProject, tt.wantRole)
		}
	}
}

func TestResolveDeduplicatesInferredRoles(t *testing.T) {
	src := &fakeSource{groups: []string{"shop-web", "front-shop-web"}}

	id, err := newTestResolver(src).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !reflect.DeepEqual(id.Roles, []string{"web"}) {
		t.Errorf("Roles = %v, want deduplicated [web]", id.Roles)
	}
}

func TestResolveUnavailable(t *testing.T) {
	src := &fakeSource{
		tagErr:    errors.New("connection refused"),
		groupsErr: errors.New("metadata timeout"),
	}

	_, err := newTestResolver(src).Resolve(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Resolve() error = %v, want ErrUnavailable", err)
	}
}

func TestResolveTagFailureWithGroupsSucceeds(t *testing.T) {
	src := &fakeSource{
		tagErr: errors.New("auth failure"),
		groups: []string{"shop-web"},
	}

	id, err := newTestResolver(src).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v, want inference to carry the run", err)
	}
	if id.Project != "shop" {
		t.Errorf("Project = %q, want shop", id.Project)
	}
}
