package events

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink records batches and can fail a set number of deliveries first.
type fakeSink struct {
	mu       sync.Mutex
	batches  []*Batch
	failures int
	closed   bool
}

func (s *fakeSink) Deliver(_ context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("router unavailable")
	}
	s.batches = append(s.batches, b)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) delivered() []*Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Batch(nil), s.batches...)
}

// =============================================================================
// EMITTER TESTS
// =============================================================================

// Test that events queue up below the batch threshold.
func TestEmitQueuesBelowThreshold(t *testing.T) {
	sink := &fakeSink{}
	e := NewEmitter(sink, WithBatchSize(10))

	e.Emit(context.Background(), TypeTaskStarted, "task-1", nil)
	e.Emit(context.Background(), TypeCommitApplied, "task-1", map[string]any{"commit": "abc"})
	e.Emit(context.Background(), TypeTaskCompleted, "task-1", nil)

	assert.Equal(t, 3, e.Pending())
	assert.Empty(t, sink.delivered())
	assert.Equal(t, 3, e.Stats().Queued)
}

// Test that reaching the batch size flushes automatically.
func TestEmitAutoFlush(t *testing.T) {
	sink := &fakeSink{}
	e := NewEmitter(sink, WithBatchSize(3))

	for i := 0; i < 3; i++ {
		e.Emit(context.Background(), TypeTaskStarted, "task-1", nil)
	}

	batches := sink.delivered()
	require.Len(t, batches, 1)
	assert.Equal(t, 3, batches[0].Count)
	assert.Len(t, batches[0].Events, 3)
	assert.NotEmpty(t, batches[0].BatchID)
	assert.Zero(t, e.Pending())

	stats := e.Stats()
	assert.Equal(t, 3, stats.Sent)
	assert.Equal(t, 1, stats.BatchesSent)
	assert.Equal(t, 3, stats.LastFlushCount)
	assert.False(t, stats.LastFlushAt.IsZero())
}

// Test that flushing an empty queue is a no-op.
func TestFlushEmpty(t *testing.T) {
	sink := &fakeSink{}
	e := NewEmitter(sink)

	require.NoError(t, e.Flush(context.Background()))
	assert.Empty(t, sink.delivered())
}

// Test that a failed delivery keeps the events for the next flush.
func TestFlushFailureRetainsEvents(t *testing.T) {
	sink := &fakeSink{failures: 1}
	e := NewEmitter(sink, WithBatchSize(10))

	e.Emit(context.Background(), TypeTaskStarted, "task-1", nil)
	e.Emit(context.Background(), TypeRegression, "task-1", nil)

	require.Error(t, e.Flush(context.Background()))
	assert.Equal(t, 2, e.Pending())
	assert.Equal(t, 1, e.Stats().DeliveryErrors)

	require.NoError(t, e.Flush(context.Background()))
	assert.Zero(t, e.Pending())
	batches := sink.delivered()
	require.Len(t, batches, 1)
	assert.Equal(t, 2, batches[0].Count)
}

// Test that Emit never surfaces sink trouble to the caller.
func TestEmitSwallowsDeliveryFailure(t *testing.T) {
	sink := &fakeSink{failures: 100}
	e := NewEmitter(sink, WithBatchSize(1))

	for i := 0; i < 4; i++ {
		event := e.Emit(context.Background(), TypeTaskRejected, "task-1", nil)
		require.NotNil(t, event)
	}

	assert.Equal(t, 4, e.Pending())
	assert.Equal(t, 4, e.Stats().DeliveryErrors)
	assert.Empty(t, sink.delivered())
}

// Test the flush callback hook.
func TestOnFlushCallback(t *testing.T) {
	sink := &fakeSink{}
	e := NewEmitter(sink, WithBatchSize(10))

	var got []*Batch
	e.OnFlush(func(b *Batch) { got = append(got, b) })

	e.Emit(context.Background(), TypeShiftCompleted, "", map[string]any{"improvement": 0.23})
	require.NoError(t, e.Flush(context.Background()))

	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Count)
}

// Test that Close flushes leftovers and releases the sink.
func TestCloseFlushes(t *testing.T) {
	sink := &fakeSink{}
	e := NewEmitter(sink, WithBatchSize(10))

	e.Emit(context.Background(), TypeRecoveryAction, "task-9", map[string]any{"action": "auto_revert"})
	require.NoError(t, e.Close(context.Background()))

	require.Len(t, sink.delivered(), 1)
	assert.True(t, sink.closed)
}

// Test the shape of an emitted event.
func TestEmitEventShape(t *testing.T) {
	e := NewEmitter(NullSink{}, WithBatchSize(10))

	before := time.Now().UTC()
	event := e.Emit(context.Background(), TypeCommitApplied, "task-3", map[string]any{"commit": "c123"})

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, TypeCommitApplied, event.Type)
	assert.Equal(t, "task-3", event.TaskID)
	assert.Equal(t, "c123", event.Payload["commit"])
	assert.WithinDuration(t, before, event.Timestamp, time.Second)
}

// =============================================================================
// WEBSOCKET SINK TESTS
// =============================================================================

// routerServer fakes the agent router: it acks registration and records
// every broadcast batch.
type routerServer struct {
	srv       *httptest.Server
	mu        sync.Mutex
	conns     int
	registers []registerMessage
	batches   []*Batch
}

func newRouterServer(t *testing.T) *routerServer {
	t.Helper()
	r := &routerServer{}
	upgrader := websocket.Upgrader{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		r.mu.Lock()
		r.conns++
		r.mu.Unlock()

		var reg registerMessage
		if err := conn.ReadJSON(&reg); err != nil {
			return
		}
		r.mu.Lock()
		r.registers = append(r.registers, reg)
		r.mu.Unlock()
		if err := conn.WriteJSON(map[string]string{"type": "ack", "status": "registered"}); err != nil {
			return
		}

		for {
			var msg broadcastMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "broadcast" {
				r.mu.Lock()
				r.batches = append(r.batches, msg.Payload)
				r.mu.Unlock()
			}
		}
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *routerServer) wsURL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *routerServer) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *routerServer) connCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns
}

func testBatch(id string) *Batch {
	return &Batch{
		BatchID:   id,
		Timestamp: time.Now().UTC(),
		Events:    []*Event{{ID: "e1", Type: TypeTaskStarted, Timestamp: time.Now().UTC()}},
		Count:     1,
	}
}

// Test the full path: register handshake, then a broadcast batch.
func TestWSSinkDeliversBatch(t *testing.T) {
	router := newRouterServer(t)
	sink := NewWSSink(router.wsURL(), "evolution_daemon", WithBaseDelay(time.Millisecond))
	defer sink.Close()
	e := NewEmitter(sink, WithBatchSize(2))

	e.Emit(context.Background(), TypeTaskStarted, "task-1", nil)
	e.Emit(context.Background(), TypeTaskCompleted, "task-1", nil)

	require.Eventually(t, func() bool { return router.batchCount() == 1 }, time.Second, 10*time.Millisecond)

	router.mu.Lock()
	defer router.mu.Unlock()
	require.Len(t, router.registers, 1)
	assert.Equal(t, "register", router.registers[0].Type)
	assert.Equal(t, "evolution_daemon", router.registers[0].AgentID)
	assert.Equal(t, 2, router.batches[0].Count)
}

// Test that a closed sink redials on the next delivery.
func TestWSSinkReconnects(t *testing.T) {
	router := newRouterServer(t)
	sink := NewWSSink(router.wsURL(), "evolution_daemon", WithBaseDelay(time.Millisecond))

	require.NoError(t, sink.Deliver(context.Background(), testBatch("b1")))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Deliver(context.Background(), testBatch("b2")))
	defer sink.Close()

	require.Eventually(t, func() bool { return router.batchCount() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, router.connCount())
}

// Test that an unreachable router fails after the configured attempts.
func TestWSSinkUnreachable(t *testing.T) {
	sink := NewWSSink("ws://127.0.0.1:1/router", "evolution_daemon",
		WithDialAttempts(2), WithBaseDelay(time.Millisecond))

	err := sink.Deliver(context.Background(), testBatch("b1"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial event router")
}