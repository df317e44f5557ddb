package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/reforge/reforge/pkg/artifact"
	"github.com/reforge/reforge/pkg/identity"
	"github.com/reforge/reforge/pkg/layer"
	"github.com/reforge/reforge/pkg/policy"
	"github.com/reforge/reforge/pkg/recorder"
	"github.com/reforge/reforge/pkg/telemetry"
)

// fakeFetcher serves objects from an in-memory map.
type fakeFetcher struct {
	objects map[string]string
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, key, localPath string) error {
	f.fetched = append(f.fetched, key)
	content, ok := f.objects[key]
	if !ok {
		return artifact.ErrNotFound
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, []byte(content), 0o644)
}

// fakePlaybook records applied playbooks and returns configured exits,
// keyed by staged file name.
type fakePlaybook struct {
	applied []string
	exits   map[string]int
}

func (p *fakePlaybook) Apply(_ context.Context, path string) (int, error) {
	name := filepath.Base(path)
	p.applied = append(p.applied, name)
	return p.exits[name], nil
}

// fakeRecorder collects recorded stage outcomes.
type fakeRecorder struct {
	records []string
	fail    bool
}

func (r *fakeRecorder) Record(path layer.Path, stage layer.Stage, exitCode int) error {
	if r.fail {
		return fmt.Errorf("disk full")
	}
	r.records = append(r.records, fmt.Sprintf("%s|%s|%d", path.StagingKey(), stage, exitCode))
	return nil
}

// fakeInstaller records manifests and returns a fixed exit code.
type fakeInstaller struct {
	installed []string
	exitCode  int
}

func (i *fakeInstaller) Install(_ context.Context, manifestPath string) (int, error) {
	i.installed = append(i.installed, filepath.Base(manifestPath))
	return i.exitCode, nil
}

// fakeResolver returns a fixed identity.
type fakeResolver struct {
	id  identity.Identity
	err error
}

func (r *fakeResolver) Resolve(_ context.Context) (identity.Identity, error) {
	return r.id, r.err
}

// fakeGate denies configured layers and allows the rest.
type fakeGate struct {
	deny map[layer.Path]string
	warn []string
}

func (g *fakeGate) EvaluateLayer(_ context.Context, p layer.Path, _ identity.Identity) (*policy.Decision, error) {
	if g.deny != nil {
		if msg, ok := g.deny[p]; ok {
			return &policy.Decision{Denials: []string{msg}}, nil
		}
	}
	return &policy.Decision{Allowed: true, Warnings: g.warn}, nil
}

// fakeStore collects run history calls.
type fakeStore struct {
	runs      []*recorder.Run
	stages    []*recorder.StageResult
	completed map[string]recorder.RunStatus
}

func (s *fakeStore) CreateRun(_ context.Context, run *recorder.Run) error {
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStore) CompleteRun(_ context.Context, id string, status recorder.RunStatus) error {
	if s.completed == nil {
		s.completed = map[string]recorder.RunStatus{}
	}
	s.completed[id] = status
	return nil
}

func (s *fakeStore) RecordStage(_ context.Context, res *recorder.StageResult) error {
	s.stages = append(s.stages, res)
	return nil
}

func testTelemetry(t *testing.T) (*telemetry.Metrics, *telemetry.Tracer) {
	t.Helper()
	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{}, "test", "", "")
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	return telemetry.NewMetrics(telemetry.MetricsConfig{}), tracer
}

// testPipeline wires an orchestrator over fakes and temp dirs.
type testPipeline struct {
	orch     *Orchestrator
	fetcher  *fakeFetcher
	playbook *fakePlaybook
	recorder *fakeRecorder
	installr *fakeInstaller
	gate     *fakeGate
	store    *fakeStore
}

func newTestPipeline(t *testing.T, id identity.Identity) *testPipeline {
	t.Helper()

	dir := t.TempDir()
	staging := filepath.Join(dir, "staging")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}

	metrics, tracer := testTelemetry(t)
	log := zerolog.Nop()

	p := &testPipeline{
		fetcher:  &fakeFetcher{objects: map[string]string{}},
		playbook: &fakePlaybook{exits: map[string]int{}},
		recorder: &fakeRecorder{},
		installr: &fakeInstaller{},
		gate:     &fakeGate{},
		store:    &fakeStore{},
	}

	timeout := 30 * time.Second
	inventory := NewInventory(filepath.Join(dir, "hosts"), filepath.Join(dir, "group_vars"), p.fetcher, timeout, log)
	deps := NewLayerDeps(p.fetcher, p.installr, staging, timeout, metrics, log)
	executor := NewExecutor(p.fetcher, p.playbook, p.recorder, staging, timeout, metrics, tracer, log)

	p.orch = NewOrchestrator(OrchestratorParams{
		LockFile:  filepath.Join(dir, "reforge.lock"),
		Resolver:  &fakeResolver{id: id},
		Policies:  p.gate,
		Deps:      deps,
		Inventory: inventory,
		Executor:  executor,
		Store:     p.store,
		Metrics:   metrics,
		Tracer:    tracer,
		Logger:    log,
	})
	return p
}

// stageAll registers a main-stage playbook for every layer of the plan.
func (p *testPipeline) stageAll(id identity.Identity) {
	for _, path := range layer.Plan(id) {
		p.fetcher.objects[path.Artifact("playbook.yml")] = "- hosts: all"
	}
}

func testIdentity() identity.Identity {
	return identity.Identity{Project: "shop", Roles: []string{"web"}, Environment: "production"}
}

func TestProvisionRunsAllPlannedLayers(t *testing.T) {
	id := testIdentity()
	p := newTestPipeline(t, id)
	p.stageAll(id)

	opts := Options{SkipPreconfigure: true}
	if err := p.orch.Provision(context.Background(), opts); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	// Root, project, and role layers each applied their main playbook.
	want := []string{"playbook.yml", "shop-playbook.yml", "shop-web-playbook.yml"}
	if len(p.playbook.applied) != len(want) {
		t.Fatalf("applied = %v, want %v", p.playbook.applied, want)
	}
	for i, name := range want {
		if p.playbook.applied[i] != name {
			t.Errorf("applied[%d] = %q, want %q", i, p.playbook.applied[i], name)
		}
	}

	if len(p.store.runs) != 1 {
		t.Fatalf("runs created = %d, want 1", len(p.store.runs))
	}
	runID := p.store.runs[0].ID
	if got := p.store.completed[runID]; got != recorder.RunStatusSucceeded {
		t.Errorf("run status = %q, want %q", got, recorder.RunStatusSucceeded)
	}
	if len(p.store.stages) != 3 {
		t.Errorf("stage history entries = %d, want 3", len(p.store.stages))
	}
}

func TestProvisionSkipFlagsExcludeLayers(t *testing.T) {
	id := testIdentity()
	p := newTestPipeline(t, id)
	p.stageAll(id)

	opts := Options{SkipPreconfigure: true, SkipCorePlaybook: true, SkipBasePlaybook: true}
	if err := p.orch.Provision(context.Background(), opts); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	if len(p.playbook.applied) != 1 || p.playbook.applied[0] != "shop-web-playbook.yml" {
		t.Errorf("applied = %v, want only the role layer", p.playbook.applied)
	}
}

func TestProvisionPolicyDenialSkipsLayer(t *testing.T) {
	id := testIdentity()
	p := newTestPipeline(t, id)
	p.stageAll(id)
	p.gate.deny = map[layer.Path]string{
		layer.ForRole("shop", "web"): "role layer blocked in production",
	}

	if err := p.orch.Provision(context.Background(), Options{SkipPreconfigure: true}); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	for _, name := range p.playbook.applied {
		if name == "shop-web-playbook.yml" {
			t.Error("denied layer was executed")
		}
	}
	if len(p.playbook.applied) != 2 {
		t.Errorf("applied = %v, want root and project layers", p.playbook.applied)
	}
}

func TestProvisionStageFailureDegradesButContinues(t *testing.T) {
	id := testIdentity()
	p := newTestPipeline(t, id)
	p.stageAll(id)
	p.playbook.exits["shop-playbook.yml"] = 2

	if err := p.orch.Provision(context.Background(), Options{SkipPreconfigure: true}); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	// The failing project layer did not stop the role layer.
	if len(p.playbook.applied) != 3 {
		t.Fatalf("applied = %v, want all three layers", p.playbook.applied)
	}
	runID := p.store.runs[0].ID
	if got := p.store.completed[runID]; got != recorder.RunStatusDegraded {
		t.Errorf("run status = %q, want %q", got, recorder.RunStatusDegraded)
	}

	// The failing exit is in the status record.
	found := false
	for _, rec := range p.recorder.records {
		if rec == "shop-|main|2" {
			found = true
		}
	}
	if !found {
		t.Errorf("records = %v, want shop- main exit 2", p.recorder.records)
	}
}

func TestProvisionDependencyFailureIsSoft(t *testing.T) {
	id := testIdentity()
	p := newTestPipeline(t, id)
	p.stageAll(id)
	for _, path := range layer.Plan(id) {
		p.fetcher.objects[path.Artifact("dependencies.yml")] = "- role: common"
	}
	p.installr.exitCode = 1

	if err := p.orch.Provision(context.Background(), Options{SkipPreconfigure: true}); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	if len(p.installr.installed) != 3 {
		t.Errorf("install attempts = %d, want 3", len(p.installr.installed))
	}
	// Failed installs do not degrade the run.
	runID := p.store.runs[0].ID
	if got := p.store.completed[runID]; got != recorder.RunStatusSucceeded {
		t.Errorf("run status = %q, want %q", got, recorder.RunStatusSucceeded)
	}
	if len(p.playbook.applied) != 3 {
		t.Errorf("applied = %v, want all layers despite install failures", p.playbook.applied)
	}
}

func TestProvisionIdentityFailureIsFatal(t *testing.T) {
	id := testIdentity()
	p := newTestPipeline(t, id)
	p.orch.resolver = &fakeResolver{err: identity.ErrUnavailable}

	err := p.orch.Provision(context.Background(), Options{SkipPreconfigure: true})
	if !IsFatal(err) {
		t.Fatalf("Provision() error = %v, want fatal", err)
	}
	if len(p.playbook.applied) != 0 {
		t.Errorf("applied = %v, want none", p.playbook.applied)
	}
}

func TestProvisionLockContention(t *testing.T) {
	id := testIdentity()
	p := newTestPipeline(t, id)
	if err := os.WriteFile(p.orch.lockFile, []byte("4242\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := p.orch.Provision(context.Background(), Options{SkipPreconfigure: true})
	if !IsFatal(err) {
		t.Fatalf("Provision() error = %v, want fatal lock error", err)
	}
}

func TestProvisionReleasesLock(t *testing.T) {
	id := testIdentity()
	p := newTestPipeline(t, id)
	p.stageAll(id)

	for i := 0; i < 2; i++ {
		if err := p.orch.Provision(context.Background(), Options{SkipPreconfigure: true}); err != nil {
			t.Fatalf("Provision() #%d error = %v", i, err)
		}
	}
}

func TestProvisionVaultStagedPerLayer(t *testing.T) {
	id := testIdentity()
	p := newTestPipeline(t, id)
	p.stageAll(id)
	p.fetcher.objects["vault.yml"] = "secret: root"
	p.fetcher.objects["shop/web/vault.yml"] = "secret: role"

	if err := p.orch.Provision(context.Background(), Options{SkipPreconfigure: true}); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	groupVars := p.orch.inventory.groupVarsDir
	for _, name := range []string{"all.yml", "shop-web.yml"} {
		if _, err := os.Stat(filepath.Join(groupVars, name)); err != nil {
			t.Errorf("vault %s not staged: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(groupVars, "shop.yml")); !os.IsNotExist(err) {
		t.Error("project vault staged despite missing remote object")
	}
}
