package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"alarm-gateway/internal/anomaly"
	"alarm-gateway/internal/data"
	"alarm-gateway/internal/metrics"
	"alarm-gateway/internal/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterval = 10 * time.Millisecond

type message struct {
	event   string
	payload interface{}
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []message
}

func (b *recordingBroadcaster) Broadcast(event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, message{event: event, payload: payload})
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// blockingBroadcaster parks the first Broadcast call until release is closed.
type blockingBroadcaster struct {
	recordingBroadcaster
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBroadcaster) Broadcast(event string, payload interface{}) {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	b.recordingBroadcaster.Broadcast(event, payload)
}

type panickingBroadcaster struct{}

func (panickingBroadcaster) Broadcast(string, interface{}) {
	panic("subscriber table corrupted")
}

// steppingClock hands out strictly increasing times so records never collide.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, 1, 16, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func newTestProcessor(b Broadcaster, opts ...Option) (*Processor, *storage.HistoryStore) {
	store := storage.NewHistoryStore(100)
	builder := data.NewBuilder(anomaly.NewDetector(70), steppingClock())
	opts = append([]Option{WithInterval(testInterval)}, opts...)
	return New(builder, store, b, opts...), store
}

func sampleEvent() data.RawEvent {
	return data.RawEvent{
		"alarm":      map[string]interface{}{"rule": "alarma_3"},
		"evaluation": map[string]interface{}{"last_values": map[string]interface{}{"alarma.X": 73.9}},
		"origin":     map[string]interface{}{"id": "dev-1"},
		"severity":   float64(2),
		"state":      float64(1),
	}
}

func TestProcessOnceEmptySlot(t *testing.T) {
	b := &recordingBroadcaster{}
	p, store := newTestProcessor(b)

	processed, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, b.count())
}

func TestProcessOnceConsumesSlot(t *testing.T) {
	b := &recordingBroadcaster{}
	m := metrics.New()
	p, store := newTestProcessor(b, WithMetrics(m))

	p.Submit(sampleEvent())
	require.True(t, p.Pending())

	processed, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.False(t, p.Pending())

	require.Equal(t, 1, store.Len())
	require.Equal(t, 1, b.count())
	assert.Equal(t, EventProcessedData, b.messages[0].event)

	rec, ok := b.messages[0].payload.(*data.Record)
	require.True(t, ok)
	latest, _ := store.Latest()
	assert.Equal(t, latest, *rec)
	assert.Equal(t, "dev-1", rec.DeviceID)
	assert.Equal(t, data.StatusActive, rec.Status)

	// the next tick finds nothing to re-broadcast
	processed, err = p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, b.count())

	assert.InDelta(t, 1, testutil.ToFloat64(m.EventsReceived), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RecordsProcessed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.HistorySize), 0)
}

func TestSubmitKeepsOnlyNewest(t *testing.T) {
	b := &recordingBroadcaster{}
	p, store := newTestProcessor(b)

	first := sampleEvent()
	second := sampleEvent()
	second["origin"] = map[string]interface{}{"id": "dev-2"}

	p.Submit(first)
	p.Submit(second)

	_, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, store.Len())
	latest, _ := store.Latest()
	assert.Equal(t, "dev-2", latest.DeviceID)
}

func TestProcessOnceCancelledContext(t *testing.T) {
	p, _ := newTestProcessor(&recordingBroadcaster{})
	p.Submit(sampleEvent())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ProcessOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, p.Pending(), "a cancelled tick must not consume the slot")
}

func TestProcessOnceRecoversPanic(t *testing.T) {
	m := metrics.New()
	p, _ := newTestProcessor(panickingBroadcaster{}, WithMetrics(m))
	p.Submit(sampleEvent())

	processed, err := p.ProcessOnce(context.Background())
	assert.False(t, processed)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "subscriber table corrupted")
	assert.InDelta(t, 1, testutil.ToFloat64(m.TickErrors), 0)
}

func TestLoopProcessesSubmission(t *testing.T) {
	b := &recordingBroadcaster{}
	p, store := newTestProcessor(b)

	p.Start()
	defer p.Stop()

	p.Submit(sampleEvent())

	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, testInterval)

	// several more ticks go by without duplicating the event
	time.Sleep(5 * testInterval)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, b.count())
	assert.False(t, p.Pending())
}

func TestLoopSurvivesTickFailure(t *testing.T) {
	p, _ := newTestProcessor(panickingBroadcaster{})

	p.Start()
	defer p.Stop()

	p.Submit(sampleEvent())
	require.Eventually(t, func() bool { return !p.Pending() }, time.Second, testInterval)
	assert.True(t, p.Running())

	p.Submit(sampleEvent())
	require.Eventually(t, func() bool { return !p.Pending() }, time.Second, testInterval)
	assert.True(t, p.Running())
}

func TestStartStopIdempotent(t *testing.T) {
	p, _ := newTestProcessor(&recordingBroadcaster{})

	assert.False(t, p.Running())
	p.Stop()
	assert.False(t, p.Running())

	p.Start()
	p.Start()
	assert.True(t, p.Running())

	p.Stop()
	p.Stop()
	assert.False(t, p.Running())

	p.Start()
	assert.True(t, p.Running())
	p.Stop()
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	b := &blockingBroadcaster{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	p, store := newTestProcessor(b)

	p.Start()
	p.Submit(sampleEvent())

	select {
	case <-b.entered:
	case <-time.After(time.Second):
		t.Fatal("tick never reached the broadcaster")
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was still broadcasting")
	case <-time.After(5 * testInterval):
	}

	close(b.release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the tick finished")
	}

	assert.False(t, p.Running())
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, b.count())

	// nothing is consumed until Start is called again
	p.Submit(sampleEvent())
	time.Sleep(5 * testInterval)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, b.count())
	assert.True(t, p.Pending())

	p.Start()
	defer p.Stop()
	require.Eventually(t, func() bool { return store.Len() == 2 }, time.Second, testInterval)
}

func TestSlot(t *testing.T) {
	var s Slot

	_, ok := s.Take()
	assert.False(t, ok)

	s.Set(data.RawEvent{"instance": "a"})
	s.Set(data.RawEvent{"instance": "b"})
	assert.True(t, s.Pending())

	raw, ok := s.Take()
	require.True(t, ok)
	assert.Equal(t, "b", raw["instance"])
	assert.False(t, s.Pending())
}
