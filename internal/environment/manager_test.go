package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/models"
	"github.com/akmukhi/developer-self-service/internal/repository"
)

type fakeGateway struct {
	mu          sync.Mutex
	namespaces  map[string]map[string]string
	deployments map[string]bool

	createErr error
	getErr    error
	deleteErr error
	// deleteGate blocks DeleteNamespace until closed, or until ctx ends, when non-nil.
	deleteGate chan struct{}

	createCalls atomic.Int32
	getCalls    atomic.Int32
	deleteCalls atomic.Int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		namespaces:  map[string]map[string]string{},
		deployments: map[string]bool{},
	}
}

func notFound(kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, k8s.ErrNotFound)
}

func (g *fakeGateway) CreateNamespace(_ context.Context, name string, labels map[string]string) (*models.Namespace, error) {
	g.createCalls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	if _, ok := g.namespaces[name]; ok {
		return nil, fmt.Errorf("namespace %q: %w", name, k8s.ErrAlreadyExists)
	}
	g.namespaces[name] = labels
	return &models.Namespace{Name: name, Labels: labels}, nil
}

func (g *fakeGateway) GetNamespace(_ context.Context, name string) (*models.Namespace, error) {
	g.getCalls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	labels, ok := g.namespaces[name]
	if !ok {
		return nil, notFound("namespace", name)
	}
	return &models.Namespace{Name: name, Labels: labels}, nil
}

func (g *fakeGateway) DeleteNamespace(ctx context.Context, name string) error {
	g.deleteCalls.Add(1)
	if g.deleteGate != nil {
		select {
		case <-g.deleteGate:
		case <-ctx.Done():
			return fmt.Errorf("delete namespace %q: %w: %w", name, k8s.ErrUnavailable, ctx.Err())
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	if _, ok := g.namespaces[name]; !ok {
		return notFound("namespace", name)
	}
	delete(g.namespaces, name)
	return nil
}

func (g *fakeGateway) GetDeployment(_ context.Context, namespace, name string) (*models.Deployment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.deployments[namespace+"/"+name] {
		return nil, notFound("deployment", namespace+"/"+name)
	}
	return &models.Deployment{ID: namespace + "/" + name, Name: name, Namespace: namespace}, nil
}

// removeOutOfBand deletes a namespace behind the manager's back.
func (g *fakeGateway) removeOutOfBand(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.namespaces, name)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	mgr   *Manager
	gw    *fakeGateway
	store repository.EnvironmentStore
	clock *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := newFakeGateway()
	store := repository.NewMemoryStore()
	clock := &fakeClock{now: t0}
	var seq atomic.Int32
	mgr := NewManager(store, gw,
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			return fmt.Sprintf("%08x-0000-4000-8000-000000000000", seq.Add(1))
		}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return &fixture{mgr: mgr, gw: gw, store: store, clock: clock}
}

func TestCreate_ExpiresAtIsCreatedPlusTTL(t *testing.T) {
	f := newFixture(t)
	for _, ttl := range []int{1, 24, 168} {
		env, err := f.mgr.Create(context.Background(), models.EnvironmentCreate{Name: "dev-test", TTLHours: ttl})
		require.NoError(t, err)
		assert.Equal(t, models.EnvironmentActive, env.Status)
		assert.True(t, env.CreatedAt.Equal(t0))
		assert.Equal(t, env.CreatedAt.Add(time.Duration(ttl)*time.Hour), env.ExpiresAt)
		assert.Nil(t, env.DeletedAt)
	}
}

func TestCreate_Validation(t *testing.T) {
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	tests := []struct {
		name string
		req  models.EnvironmentCreate
	}{
		{"empty name", models.EnvironmentCreate{Name: "", TTLHours: 1}},
		{"name too long", models.EnvironmentCreate{Name: string(long), TTLHours: 1}},
		{"ttl zero", models.EnvironmentCreate{Name: "x", TTLHours: 0}},
		{"ttl too large", models.EnvironmentCreate{Name: "x", TTLHours: 169}},
		{"bad namespace", models.EnvironmentCreate{Name: "x", TTLHours: 1, Namespace: "team.a"}},
		{"bad label key", models.EnvironmentCreate{Name: "x", TTLHours: 1, Labels: map[string]string{"bad key": "v"}}},
		{"bad label value", models.EnvironmentCreate{Name: "x", TTLHours: 1, Labels: map[string]string{"k": "has space"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.mgr.Create(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Zero(t, f.gw.createCalls.Load(), "validation must fail before any cluster call")
		})
	}
}

func TestCreate_NamespaceOverrideNormalized(t *testing.T) {
	f := newFixture(t)
	env, err := f.mgr.Create(context.Background(), models.EnvironmentCreate{Name: "x", TTLHours: 1, Namespace: "Team_A"})
	require.NoError(t, err)
	assert.Equal(t, "team-a", env.Namespace)
}

func TestCreate_DerivedNamespace(t *testing.T) {
	f := newFixture(t)
	env, err := f.mgr.Create(context.Background(), models.EnvironmentCreate{Name: "My_Env!", TTLHours: 1})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^my-env--[0-9a-f]{8}$`), env.Namespace)
	assert.Equal(t, "my-env--00000001", env.Namespace)
}

func TestCreate_SystemLabelsWin(t *testing.T) {
	f := newFixture(t)
	env, err := f.mgr.Create(context.Background(), models.EnvironmentCreate{
		Name:     "dev",
		TTLHours: 2,
		Labels:   map[string]string{"managed-by": "me", "team": "backend"},
	})
	require.NoError(t, err)
	assert.Equal(t, "devportal", env.Labels[LabelManagedBy])
	assert.Equal(t, "backend", env.Labels["team"])
	assert.Equal(t, env.ID, env.Labels[LabelEnvironmentID])
	assert.Equal(t, "dev", env.Labels[LabelEnvironmentName])
	assert.Equal(t, "2", env.Labels[LabelTTLHours])
	assert.Equal(t, strconv.FormatInt(t0.Add(2*time.Hour).Unix(), 10), env.Labels[LabelExpiresAt])

	f.gw.mu.Lock()
	defer f.gw.mu.Unlock()
	assert.Equal(t, env.Labels, f.gw.namespaces[env.Namespace])
}

func TestCreate_AlreadyExistsIsSuccess(t *testing.T) {
	f := newFixture(t)
	f.gw.namespaces["shared"] = map[string]string{}

	env, err := f.mgr.Create(context.Background(), models.EnvironmentCreate{Name: "x", TTLHours: 1, Namespace: "shared"})
	require.NoError(t, err)
	assert.Equal(t, "shared", env.Namespace)
	assert.Equal(t, models.EnvironmentActive, env.Status)
}

func TestCreate_ClusterFailures(t *testing.T) {
	f := newFixture(t)
	f.gw.createErr = fmt.Errorf("namespace: %w", k8s.ErrUnavailable)
	_, err := f.mgr.Create(context.Background(), models.EnvironmentCreate{Name: "x", TTLHours: 1})
	assert.ErrorIs(t, err, ErrClusterUnavailable)

	f.gw.createErr = errors.New("admission webhook denied the request")
	_, err = f.mgr.Create(context.Background(), models.EnvironmentCreate{Name: "x", TTLHours: 1})
	assert.ErrorIs(t, err, ErrClusterError)

	envs, err := f.store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, envs, "failed creates must not persist anything")
}

func TestCreate_UnresolvedServicesDropped(t *testing.T) {
	f := newFixture(t)
	f.gw.deployments["default/api"] = true
	f.gw.deployments["team/worker"] = true

	env, err := f.mgr.Create(context.Background(), models.EnvironmentCreate{
		Name:     "x",
		TTLHours: 1,
		Services: []string{"api", "missing", "team/worker", "Not/A/Valid/Id"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "team/worker"}, env.Services)
}

func TestList_DerivesExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "dev-test", TTLHours: 24})
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	envs, err := f.mgr.List(ctx, models.EnvironmentFilter{})
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, models.EnvironmentExpired, envs[0].Status)

	stored, err := f.store.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnvironmentActive, stored.Status, "expired must never be stored")
}

func TestList_ExpiryBoundaryIsStrict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "edge", TTLHours: 1})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	got, err := f.mgr.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnvironmentActive, got.Status)

	f.clock.Advance(time.Nanosecond)
	got, err = f.mgr.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnvironmentExpired, got.Status)
}

func TestList_StatusFilterUsesDerivedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	short, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "short", TTLHours: 1})
	require.NoError(t, err)
	long, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "long", TTLHours: 48})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	active, err := f.mgr.List(ctx, models.EnvironmentFilter{Status: models.EnvironmentActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, long.ID, active[0].ID)

	expired, err := f.mgr.List(ctx, models.EnvironmentFilter{Status: models.EnvironmentExpired})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, short.ID, expired[0].ID)

	_, err = f.mgr.List(ctx, models.EnvironmentFilter{Status: "bogus"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestList_NamespaceFilterAndEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	envs, err := f.mgr.List(ctx, models.EnvironmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, envs)

	_, err = f.mgr.Create(ctx, models.EnvironmentCreate{Name: "a", TTLHours: 1, Namespace: "ns-a"})
	require.NoError(t, err)
	_, err = f.mgr.Create(ctx, models.EnvironmentCreate{Name: "b", TTLHours: 1, Namespace: "ns-b"})
	require.NoError(t, err)

	envs, err = f.mgr.List(ctx, models.EnvironmentFilter{Namespace: "ns-b"})
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "b", envs[0].Name)
}

func TestGet_OutOfBandDeletionIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "x", TTLHours: 1})
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	f.gw.removeOutOfBand(env.Namespace)
	f.clock.Advance(5 * time.Minute)
	observedAt := f.clock.Now()

	got, err := f.mgr.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnvironmentDeleted, got.Status)
	require.NotNil(t, got.DeletedAt)
	assert.True(t, got.DeletedAt.Equal(observedAt), "deleted_at is the observation time")

	// Past expiry, and even if the namespace reappears, the record stays deleted.
	f.clock.Advance(48 * time.Hour)
	f.gw.namespaces[env.Namespace] = map[string]string{}
	calls := f.gw.getCalls.Load()
	for i := 0; i < 3; i++ {
		got, err = f.mgr.Get(ctx, env.ID)
		require.NoError(t, err)
		assert.Equal(t, models.EnvironmentDeleted, got.Status)
		assert.True(t, got.DeletedAt.Equal(observedAt))
	}
	assert.Equal(t, calls, f.gw.getCalls.Load(), "deleted records need no cluster lookup")

	envs, err := f.mgr.List(ctx, models.EnvironmentFilter{Status: models.EnvironmentDeleted})
	require.NoError(t, err)
	assert.Len(t, envs, 1)
}

func TestGet_NotFoundAndUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	env, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "x", TTLHours: 1})
	require.NoError(t, err)
	f.gw.getErr = fmt.Errorf("namespace: %w", k8s.ErrCircuitOpen)
	_, err = f.mgr.Get(ctx, env.ID)
	assert.ErrorIs(t, err, ErrClusterUnavailable)
	_, err = f.mgr.List(ctx, models.EnvironmentFilter{})
	assert.ErrorIs(t, err, ErrClusterUnavailable)

	stored, err := f.store.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnvironmentActive, stored.Status)
}

func TestDelete_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "x", TTLHours: 1})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.mgr.Delete(ctx, env.ID))

	stored, err := f.store.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnvironmentDeleted, stored.Status)
	require.NotNil(t, stored.DeletedAt)
	assert.True(t, stored.DeletedAt.Equal(t0.Add(time.Minute)))
	_, exists := f.gw.namespaces[env.Namespace]
	assert.False(t, exists)
}

func TestDelete_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "x", TTLHours: 1})
	require.NoError(t, err)

	require.NoError(t, f.mgr.Delete(ctx, env.ID))
	first, err := f.store.Get(ctx, env.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.mgr.Delete(ctx, env.ID))
	assert.EqualValues(t, 1, f.gw.deleteCalls.Load())

	second, err := f.store.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.True(t, first.DeletedAt.Equal(*second.DeletedAt), "deleted_at is set exactly once")
}

func TestDelete_NamespaceAlreadyGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "x", TTLHours: 1})
	require.NoError(t, err)
	f.gw.removeOutOfBand(env.Namespace)

	require.NoError(t, f.mgr.Delete(ctx, env.ID))
	stored, err := f.store.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnvironmentDeleted, stored.Status)
}

func TestDelete_UnknownIDLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		_, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: name, TTLHours: 1})
		require.NoError(t, err)
	}
	before, err := f.mgr.List(ctx, models.EnvironmentFilter{})
	require.NoError(t, err)

	err = f.mgr.Delete(ctx, "never-created")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.gw.deleteCalls.Load())

	after, err := f.mgr.List(ctx, models.EnvironmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDelete_GatewayFailureNoMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "x", TTLHours: 1})
	require.NoError(t, err)

	f.gw.deleteErr = fmt.Errorf("namespace: %w", k8s.ErrUnavailable)
	assert.ErrorIs(t, f.mgr.Delete(ctx, env.ID), ErrClusterUnavailable)

	f.gw.deleteErr = errors.New("forbidden")
	assert.ErrorIs(t, f.mgr.Delete(ctx, env.ID), ErrClusterError)

	stored, err := f.store.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnvironmentActive, stored.Status)
	assert.Nil(t, stored.DeletedAt)
}

func TestDelete_ConcurrentCallsShareOneClusterCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "x", TTLHours: 1})
	require.NoError(t, err)

	gate := make(chan struct{})
	f.gw.deleteGate = gate

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.mgr.Delete(ctx, env.ID)
		}()
	}
	require.Eventually(t, func() bool { return f.gw.deleteCalls.Load() == 1 }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, f.gw.deleteCalls.Load())
	stored, err := f.store.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnvironmentDeleted, stored.Status)
}

func TestDelete_CancelledCallerDoesNotFailSharedCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "x", TTLHours: 1})
	require.NoError(t, err)

	gate := make(chan struct{})
	f.gw.deleteGate = gate

	leaving, cancel := context.WithCancel(ctx)
	leavingErr := make(chan error, 1)
	go func() { leavingErr <- f.mgr.Delete(leaving, env.ID) }()
	require.Eventually(t, func() bool { return f.gw.deleteCalls.Load() == 1 }, time.Second, time.Millisecond)

	stayingErr := make(chan error, 1)
	go func() { stayingErr <- f.mgr.Delete(ctx, env.ID) }()
	time.Sleep(20 * time.Millisecond) // let the second caller join the in-flight delete

	cancel()
	select {
	case err := <-leavingErr:
		assert.ErrorIs(t, err, ErrClusterUnavailable)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(gate)
	select {
	case err := <-stayingErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("remaining caller did not return")
	}

	assert.EqualValues(t, 1, f.gw.deleteCalls.Load())
	stored, err := f.store.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnvironmentDeleted, stored.Status)
}

func TestCreate_IDsUnique(t *testing.T) {
	gw := newFakeGateway()
	mgr := NewManager(repository.NewMemoryStore(), gw, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		env, err := mgr.Create(context.Background(), models.EnvironmentCreate{Name: "same", TTLHours: 1})
		require.NoError(t, err)
		require.False(t, seen[env.ID])
		seen[env.ID] = true
		assert.Regexp(t, `^same-[0-9a-f]{8}$`, env.Namespace)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.EnvironmentEvent
}

func (n *recordingNotifier) EnvironmentChanged(e models.EnvironmentEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func TestNotifier_ReceivesTransitions(t *testing.T) {
	f := newFixture(t)
	n := &recordingNotifier{}
	WithNotifier(n)(f.mgr)
	ctx := context.Background()

	a, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "a", TTLHours: 1})
	require.NoError(t, err)
	b, err := f.mgr.Create(ctx, models.EnvironmentCreate{Name: "b", TTLHours: 1})
	require.NoError(t, err)

	require.NoError(t, f.mgr.Delete(ctx, a.ID))
	require.NoError(t, f.mgr.Delete(ctx, a.ID))
	f.gw.removeOutOfBand(b.Namespace)
	_, err = f.mgr.Get(ctx, b.ID)
	require.NoError(t, err)

	require.Len(t, n.events, 4)
	assert.Equal(t, models.EnvironmentCreatedEvent, n.events[0].Type)
	assert.Equal(t, a.ID, n.events[0].Environment.ID)
	assert.Equal(t, models.EnvironmentDeletedEvent, n.events[2].Type)
	assert.Equal(t, "delete_requested", n.events[2].Reason)
	assert.Equal(t, "namespace_missing", n.events[3].Reason)
	assert.Equal(t, b.ID, n.events[3].Environment.ID)
	assert.Equal(t, models.EnvironmentDeleted, n.events[3].Environment.Status)
}

// conflictingStore runs every update once against a stale snapshot before the real
// attempt, the way an optimistic store retries fn after losing a write race.
type conflictingStore struct {
	repository.EnvironmentStore
	stale *models.Environment
}

func (s *conflictingStore) Update(ctx context.Context, id string, fn repository.UpdateFunc) (*models.Environment, error) {
	if s.stale != nil {
		_ = fn(s.stale.Clone())
	}
	return s.EnvironmentStore.Update(ctx, id, fn)
}

func TestMarkDeleted_RetriedUpdateDoesNotRepeatTransition(t *testing.T) {
	store := &conflictingStore{EnvironmentStore: repository.NewMemoryStore()}
	n := &recordingNotifier{}
	mgr := NewManager(store, newFakeGateway(),
		WithNotifier(n),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	ctx := context.Background()

	env, err := mgr.Create(ctx, models.EnvironmentCreate{Name: "x", TTLHours: 1})
	require.NoError(t, err)
	require.NoError(t, mgr.Delete(ctx, env.ID))
	require.Len(t, n.events, 2)
	deleted, err := store.Get(ctx, env.ID)
	require.NoError(t, err)

	// The first attempt sees the environment still active; the committed one sees it deleted.
	store.stale = env
	got, err := mgr.markDeleted(ctx, env.ID, "namespace_missing")
	require.NoError(t, err)

	assert.Len(t, n.events, 2)
	assert.Equal(t, models.EnvironmentDeleted, got.Status)
	require.NotNil(t, got.DeletedAt)
	assert.True(t, got.DeletedAt.Equal(*deleted.DeletedAt))
}
