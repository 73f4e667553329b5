package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDelivery records every send and answers with a per-target error
type fakeDelivery struct {
	mu       sync.Mutex
	failures map[string]error
	received map[string][][]byte
	delay    time.Duration
	panicOn  string
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{
		failures: make(map[string]error),
		received: make(map[string][][]byte),
	}
}

func (f *fakeDelivery) Send(_ context.Context, target string, payload []byte) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if target == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[target]; ok {
		return err
	}
	f.received[target] = append(f.received[target], payload)
	return nil
}

func (f *fakeDelivery) receivedBy(target string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.received[target]
}

func (f *fakeDelivery) targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.received))
	for t := range f.received {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// brokenRegistry fails the operations it is told to fail
type brokenRegistry struct {
	*MemoryRegistry
	failRegister   bool
	failUnregister bool
	failSnapshot   bool
}

var errStorageDown = errors.New("storage unavailable")

func (b *brokenRegistry) Register(ctx context.Context, id string) error {
	if b.failRegister {
		return errStorageDown
	}
	return b.MemoryRegistry.Register(ctx, id)
}

func (b *brokenRegistry) Unregister(ctx context.Context, id string) error {
	if b.failUnregister {
		return errStorageDown
	}
	return b.MemoryRegistry.Unregister(ctx, id)
}

func (b *brokenRegistry) Snapshot(ctx context.Context) ([]string, error) {
	if b.failSnapshot {
		return nil, errStorageDown
	}
	return b.MemoryRegistry.Snapshot(ctx)
}

func registryWith(t *testing.T, ids ...string) *MemoryRegistry {
	t.Helper()
	reg := NewMemoryRegistry()
	for _, id := range ids {
		require.NoError(t, reg.Register(context.Background(), id))
	}
	return reg
}

func snapshotSorted(t *testing.T, reg Registry) []string {
	t.Helper()
	ids, err := reg.Snapshot(context.Background())
	require.NoError(t, err)
	sort.Strings(ids)
	return ids
}

func TestMemoryRegistry_RegisterIsIdempotent(t *testing.T) {
	reg := registryWith(t, "a", "a", "b")
	assert.Equal(t, []string{"a", "b"}, snapshotSorted(t, reg))
	assert.Equal(t, 2, reg.Count())
}

func TestMemoryRegistry_UnregisterTwice(t *testing.T) {
	reg := registryWith(t, "a", "b")
	ctx := context.Background()

	require.NoError(t, reg.Unregister(ctx, "a"))
	require.NoError(t, reg.Unregister(ctx, "a"))
	require.NoError(t, reg.Unregister(ctx, "never-registered"))

	assert.Equal(t, []string{"b"}, snapshotSorted(t, reg))
}

func TestMemoryRegistry_SnapshotReflectsLatestOperation(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "x"))
	assert.Contains(t, snapshotSorted(t, reg), "x")

	require.NoError(t, reg.Unregister(ctx, "x"))
	assert.NotContains(t, snapshotSorted(t, reg), "x")
}

func TestMemoryRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		id := fmt.Sprintf("conn-%d", i)
		go func() {
			defer wg.Done()
			_ = reg.Register(ctx, id)
		}()
		go func() {
			defer wg.Done()
			_, _ = reg.Snapshot(ctx)
		}()
		go func() {
			defer wg.Done()
			_ = reg.Unregister(ctx, "missing")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, reg.Count())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeDelivered, Classify(nil))
	assert.Equal(t, OutcomeGone, Classify(ErrGone))
	assert.Equal(t, OutcomeGone, Classify(fmt.Errorf("post to c1: %w", ErrGone)))
	assert.Equal(t, OutcomeTransient, Classify(errors.New("i/o timeout")))
	assert.Equal(t, "gone", OutcomeGone.String())
}

func TestEngine_DeliversToEveryoneButSender(t *testing.T) {
	reg := registryWith(t, "A", "B", "C", "D")
	client := newFakeDelivery()
	engine := NewEngine(reg, client)

	report, err := engine.Broadcast(context.Background(), "A", []byte("hi"))
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "C", "D"}, client.targets())
	assert.Empty(t, client.receivedBy("A"))
	assert.Equal(t, 3, report.Targets())
	assert.Equal(t, 3, report.Delivered)
}

func TestEngine_GoneTargetIsEvicted(t *testing.T) {
	reg := registryWith(t, "A", "B", "C")
	client := newFakeDelivery()
	client.failures["C"] = fmt.Errorf("post: %w", ErrGone)
	engine := NewEngine(reg, client)

	report, err := engine.Broadcast(context.Background(), "A", []byte("hi"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, snapshotSorted(t, reg))
	assert.Equal(t, [][]byte{[]byte("hi")}, client.receivedBy("B"))
	assert.Empty(t, client.receivedBy("C"))
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Gone)

	// C is no longer a target for later broadcasts
	report, err = engine.Broadcast(context.Background(), "B", []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Targets())
	assert.Equal(t, [][]byte{[]byte("again")}, client.receivedBy("A"))
}

func TestEngine_TransientFailureKeepsTarget(t *testing.T) {
	reg := registryWith(t, "A", "B", "C", "D")
	client := newFakeDelivery()
	client.failures["B"] = errors.New("write: i/o timeout")
	engine := NewEngine(reg, client)

	report, err := engine.Broadcast(context.Background(), "A", []byte("hi"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C", "D"}, snapshotSorted(t, reg))
	assert.Equal(t, []string{"C", "D"}, client.targets())
	assert.Equal(t, 1, report.Transient)
	assert.Equal(t, 2, report.Delivered)
}

func TestEngine_EmptyRegistry(t *testing.T) {
	client := newFakeDelivery()
	engine := NewEngine(NewMemoryRegistry(), client)

	report, err := engine.Broadcast(context.Background(), "A", []byte("hi"))
	require.NoError(t, err)
	assert.Zero(t, report.Targets())
	assert.Empty(t, client.targets())
}

func TestEngine_SenderNotRegistered(t *testing.T) {
	reg := registryWith(t, "B", "C")
	client := newFakeDelivery()
	engine := NewEngine(reg, client)

	report, err := engine.Broadcast(context.Background(), "A", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, client.targets())
	assert.Equal(t, 2, report.Delivered)
}

func TestEngine_SnapshotFailureIsRegistryError(t *testing.T) {
	reg := &brokenRegistry{MemoryRegistry: registryWith(t, "A", "B"), failSnapshot: true}
	engine := NewEngine(reg, newFakeDelivery())

	_, err := engine.Broadcast(context.Background(), "A", []byte("hi"))
	require.Error(t, err)
	assert.True(t, IsRegistryError(err))
	assert.ErrorIs(t, err, errStorageDown)
}

func TestEngine_EvictionFailureDoesNotFailBroadcast(t *testing.T) {
	reg := &brokenRegistry{MemoryRegistry: registryWith(t, "A", "B"), failUnregister: true}
	client := newFakeDelivery()
	client.failures["B"] = ErrGone
	engine := NewEngine(reg, client)

	report, err := engine.Broadcast(context.Background(), "A", []byte("hi"))
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomeGone, report.Results[0].Outcome)
	assert.True(t, IsRegistryError(report.Results[0].EvictErr))
}

func TestEngine_PanickingDeliveryIsTransient(t *testing.T) {
	reg := registryWith(t, "A", "B", "C")
	client := newFakeDelivery()
	client.panicOn = "B"
	engine := NewEngine(reg, client)

	report, err := engine.Broadcast(context.Background(), "A", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Transient)
	assert.Equal(t, []string{"C"}, client.targets())
	assert.Contains(t, snapshotSorted(t, reg), "B")
}

func TestEngine_FanOutIsConcurrent(t *testing.T) {
	ids := make([]string, 0, 21)
	for i := 0; i < 21; i++ {
		ids = append(ids, fmt.Sprintf("c%d", i))
	}
	reg := registryWith(t, ids...)
	client := newFakeDelivery()
	client.delay = 50 * time.Millisecond
	engine := NewEngine(reg, client)

	start := time.Now()
	report, err := engine.Broadcast(context.Background(), "c0", []byte("hi"))
	require.NoError(t, err)

	assert.Equal(t, 20, report.Delivered)
	// sequential delivery would take 20 * 50ms
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLifecycle_ConnectDisconnect(t *testing.T) {
	reg := NewMemoryRegistry()
	lc := NewLifecycle(reg, nil, nil)
	ctx := context.Background()

	require.NoError(t, lc.Connect(ctx, "A"))
	assert.Equal(t, []string{"A"}, snapshotSorted(t, reg))

	require.NoError(t, lc.Disconnect(ctx, "A"))
	assert.Empty(t, snapshotSorted(t, reg))

	// disconnect after eviction must not fail
	require.NoError(t, lc.Disconnect(ctx, "A"))
}

func TestLifecycle_RegistryFailure(t *testing.T) {
	reg := &brokenRegistry{MemoryRegistry: NewMemoryRegistry(), failRegister: true, failUnregister: true}
	lc := NewLifecycle(reg, nil, nil)
	ctx := context.Background()

	err := lc.Connect(ctx, "A")
	require.Error(t, err)
	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "register", regErr.Op)

	err = lc.Disconnect(ctx, "A")
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "unregister", regErr.Op)
}

func TestService_RejectsInvalidInput(t *testing.T) {
	reg := registryWith(t, "A", "B")
	client := newFakeDelivery()
	svc := NewService(Deps{Registry: reg, Client: client, MaxMessageSize: 8})
	ctx := context.Background()

	_, err := svc.OnMessage(ctx, "A", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.OnMessage(ctx, "A", []byte("  \n\t"))
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.OnMessage(ctx, "A", []byte("way too long"))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.True(t, IsClientInputError(err))

	assert.Empty(t, client.targets(), "invalid input must never be broadcast")
}

func TestService_ScenarioFromConnectToEviction(t *testing.T) {
	reg := NewMemoryRegistry()
	client := newFakeDelivery()
	svc := NewService(Deps{Registry: reg, Client: client})
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, svc.OnConnect(ctx, id))
	}
	client.failures["C"] = ErrGone

	report, err := svc.OnMessage(ctx, "A", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Gone)
	assert.Equal(t, []string{"A", "B"}, snapshotSorted(t, reg))

	// C's late disconnect notice is a no-op
	require.NoError(t, svc.OnDisconnect(ctx, "C"))
	assert.Equal(t, []string{"A", "B"}, snapshotSorted(t, reg))
}

func TestService_OrderPreservedPerSender(t *testing.T) {
	reg := registryWith(t, "A", "B")
	client := newFakeDelivery()
	svc := NewService(Deps{Registry: reg, Client: client})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := svc.OnMessage(ctx, "A", []byte(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	got := client.receivedBy("B")
	require.Len(t, got, 10)
	for i, msg := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i), string(msg))
	}
}

// rejectRecorder records rejection reasons
type rejectRecorder struct {
	nopObserver
	mu      sync.Mutex
	reasons []string
}

func (r *rejectRecorder) MessageRejected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

// evictionRecorder counts evictions and disconnects
type evictionRecorder struct {
	nopObserver
	mu      sync.Mutex
	evicted int
	closed  int
}

func (r *evictionRecorder) ConnectionEvicted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted++
}

func (r *evictionRecorder) ConnectionClosed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

func TestEngine_ReportsEvictions(t *testing.T) {
	obs := &evictionRecorder{}
	client := newFakeDelivery()
	client.failures["C"] = fmt.Errorf("closed: %w", ErrGone)
	client.failures["D"] = fmt.Errorf("closed: %w", ErrGone)
	reg := &brokenRegistry{MemoryRegistry: registryWith(t, "A", "B", "C", "D")}
	svc := NewService(Deps{Registry: reg, Client: client, Observer: obs})
	ctx := context.Background()

	_, err := svc.OnMessage(ctx, "A", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, obs.evicted)

	// a failed eviction is not counted
	reg.failUnregister = true
	client.failures["B"] = fmt.Errorf("closed: %w", ErrGone)
	_, err = svc.OnMessage(ctx, "A", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, obs.evicted)

	// the late disconnect of an evicted connection still counts as closed
	reg.failUnregister = false
	require.NoError(t, svc.OnDisconnect(ctx, "C"))
	assert.Equal(t, 1, obs.closed)
}

func TestService_RejectReasons(t *testing.T) {
	obs := &rejectRecorder{}
	svc := NewService(Deps{
		Registry:       NewMemoryRegistry(),
		Client:         newFakeDelivery(),
		Observer:       obs,
		MaxMessageSize: 4,
	})

	_, _ = svc.OnMessage(context.Background(), "A", []byte(" "))
	_, _ = svc.OnMessage(context.Background(), "A", []byte("too long"))
	svc.Reject("A", ErrRateLimited)
	svc.Reject("A", fmt.Errorf("line too long: %w", ErrMessageTooLarge))
	svc.Reject("A", errors.New("binary frame"))

	assert.Equal(t, []string{"empty", "too_large", "rate_limited", "too_large", "invalid"}, obs.reasons)
}

func TestErrorReply(t *testing.T) {
	assert.Equal(t, "error: message is empty", string(ErrorReply(ErrEmptyMessage)))
	assert.Equal(t, "error: service unavailable, try again later",
		string(ErrorReply(&RegistryError{Op: "snapshot", Err: errStorageDown})))
}
