// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/voice-escalation/pkg/escalation"
	"github.com/telekom/voice-escalation/pkg/metrics"
	"github.com/telekom/voice-escalation/pkg/store"
	"github.com/telekom/voice-escalation/pkg/voice"
)

var testContacts = []escalation.Contact{
	{ID: "alice", Name: "Alice", Phone: "+491700000001", Order: 1, Active: true},
	{ID: "bob", Name: "Bob", Phone: "+491700000002", Order: 2, Active: true},
}

// fakeEscalator records requests and answers with result.
type fakeEscalator struct {
	mu       sync.Mutex
	requests []escalation.Request
	result   func(ctx context.Context, req escalation.Request) (*escalation.Outcome, error)
}

func (f *fakeEscalator) Run(ctx context.Context, req escalation.Request) (*escalation.Outcome, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.result == nil {
		return &escalation.Outcome{AlertID: req.Alert.ID, Result: escalation.SessionConfirmed, Confirmed: true, Loops: 1}, nil
	}
	return f.result(ctx, req)
}

func (f *fakeEscalator) Requests() []escalation.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]escalation.Request(nil), f.requests...)
}

type fakeRecorder struct {
	mu        sync.Mutex
	received  []string
	processed map[string]bool
}

func (f *fakeRecorder) AlertReceived(_ context.Context, a escalation.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, a.ID)
}

func (f *fakeRecorder) AlertProcessed(_ context.Context, a escalation.Alert, confirmed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processed == nil {
		f.processed = map[string]bool{}
	}
	f.processed[a.ID] = confirmed
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (f *fakeNotifier) NotifyUnconfirmed(_ context.Context, a escalation.Alert, _ *escalation.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a.ID)
	return nil
}

func (f *fakeNotifier) Alerts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.alerts...)
}

// ackSource wraps a QueueSource and records acks.
type ackSource struct {
	*QueueSource
	mu    sync.Mutex
	acked []string
}

func (s *ackSource) Ack(_ context.Context, a escalation.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, a.ID)
	return nil
}

func (s *ackSource) Acked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.DriverSQLite, ":memory:", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestRunner(t *testing.T, src Source, st AlertStore, esc Escalator, opts ...RunnerOption) *Runner {
	t.Helper()
	renderer, err := voice.NewMessageRenderer("")
	require.NoError(t, err)
	return NewRunner([]Source{src}, st, esc, renderer, RunnerConfig{
		PollInterval:   time.Hour,
		MaxConcurrent:  2,
		Contacts:       testContacts,
		MaxLoops:       2,
		ContactTimeout: time.Minute,
	}, zaptest.NewLogger(t).Sugar(), opts...)
}

// startRunner runs r until the returned stop function is called.
func startRunner(t *testing.T, r *Runner) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Error("runner did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func processed(t *testing.T, st *store.Store, id string) func() bool {
	return func() bool {
		a, err := st.GetAlert(context.Background(), id)
		return err == nil && a.Processed
	}
}

func TestRunnerEscalatesNewAlert(t *testing.T) {
	st := openStore(t)
	src := &ackSource{QueueSource: NewQueueSource(10)}
	esc := &fakeEscalator{}
	rec := &fakeRecorder{}
	r := newTestRunner(t, src, st, esc, WithRecorder(rec))

	require.NoError(t, src.Submit(escalation.Alert{
		ID: "a-1", ExternalID: "ext-1", Sender: "Ops <ops@example.com>", Subject: "Disk full",
	}))
	startRunner(t, r)

	require.Eventually(t, processed(t, st, "a-1"), 2*time.Second, 10*time.Millisecond)

	stored, err := st.GetAlert(context.Background(), "a-1")
	require.NoError(t, err)
	assert.True(t, stored.Confirmed)
	assert.Equal(t, QueueSourceName, stored.Source)

	reqs := esc.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, testContacts, reqs[0].Contacts)
	assert.Equal(t, 2, reqs[0].MaxLoops)
	assert.Equal(t, time.Minute, reqs[0].ContactTimeout)
	assert.Equal(t, "Critical Alert. From: Ops. Subject: Disk full. Press 1 to confirm you have received this alert.", reqs[0].Message)

	require.Eventually(t, func() bool { return len(src.Acked()) == 1 }, time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"a-1"}, rec.received)
	assert.Equal(t, map[string]bool{"a-1": true}, rec.processed)
}

func TestRunnerSkipsDuplicates(t *testing.T) {
	st := openStore(t)
	src := &ackSource{QueueSource: NewQueueSource(10)}
	esc := &fakeEscalator{}
	r := newTestRunner(t, src, st, esc)

	before := testutil.ToFloat64(metrics.AlertsDuplicate.WithLabelValues(QueueSourceName))
	require.NoError(t, src.Submit(escalation.Alert{ID: "a-1", ExternalID: "same", Subject: "one"}))
	require.NoError(t, src.Submit(escalation.Alert{ID: "a-2", ExternalID: "same", Subject: "two"}))
	startRunner(t, r)

	require.Eventually(t, processed(t, st, "a-1"), 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(src.Acked()) == 2 }, time.Second, 10*time.Millisecond)

	assert.Len(t, esc.Requests(), 1)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AlertsDuplicate.WithLabelValues(QueueSourceName)))
	_, err := st.GetAlert(context.Background(), "a-2")
	assert.ErrorIs(t, err, store.ErrAlertNotFound)
}

func TestRunnerNotifiesWhenUnconfirmed(t *testing.T) {
	st := openStore(t)
	src := NewQueueSource(10)
	esc := &fakeEscalator{result: func(_ context.Context, req escalation.Request) (*escalation.Outcome, error) {
		return &escalation.Outcome{AlertID: req.Alert.ID, Result: escalation.SessionFailed, Loops: 2}, escalation.ErrExhausted
	}}
	notifier := &fakeNotifier{}
	rec := &fakeRecorder{}
	r := newTestRunner(t, src, st, esc, WithUnconfirmedNotifier(notifier), WithRecorder(rec))

	require.NoError(t, src.Submit(escalation.Alert{ID: "a-1", Subject: "nobody home"}))
	startRunner(t, r)

	require.Eventually(t, processed(t, st, "a-1"), 2*time.Second, 10*time.Millisecond)
	stored, err := st.GetAlert(context.Background(), "a-1")
	require.NoError(t, err)
	assert.False(t, stored.Confirmed)
	require.Eventually(t, func() bool { return len(notifier.Alerts()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a-1"}, notifier.Alerts())
}

func TestRunnerCancelledRunStaysUnprocessed(t *testing.T) {
	st := openStore(t)
	src := &ackSource{QueueSource: NewQueueSource(10)}
	started := make(chan struct{})
	esc := &fakeEscalator{result: func(ctx context.Context, req escalation.Request) (*escalation.Outcome, error) {
		close(started)
		<-ctx.Done()
		return &escalation.Outcome{AlertID: req.Alert.ID, Result: escalation.SessionFailed, Cancelled: true}, ctx.Err()
	}}
	r := newTestRunner(t, src, st, esc)

	require.NoError(t, src.Submit(escalation.Alert{ID: "a-1", Subject: "interrupted"}))
	stop := startRunner(t, r)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("escalation did not start")
	}
	stop()

	stored, err := st.GetAlert(context.Background(), "a-1")
	require.NoError(t, err)
	assert.False(t, stored.Processed)
	assert.Empty(t, src.Acked())
}

func TestRunnerResumesUnprocessedAlerts(t *testing.T) {
	st := openStore(t)
	require.NoError(t, st.CreateAlert(context.Background(), &escalation.Alert{ID: "left-over", Subject: "from last run", Source: "kafka"}))

	esc := &fakeEscalator{}
	r := newTestRunner(t, NewQueueSource(1), st, esc)
	startRunner(t, r)

	require.Eventually(t, processed(t, st, "left-over"), 2*time.Second, 10*time.Millisecond)
	reqs := esc.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "left-over", reqs[0].Alert.ID)
}

func TestRunnerWakesOnSubmit(t *testing.T) {
	st := openStore(t)
	src := NewQueueSource(10)
	r := newTestRunner(t, src, st, &fakeEscalator{})
	startRunner(t, r)

	// give the first poll a chance to run on the empty queue
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, src.Submit(escalation.Alert{ID: "late", Subject: "after start"}))

	require.Eventually(t, processed(t, st, "late"), 2*time.Second, 10*time.Millisecond)
}

type failingSource struct{ QueueSource }

func (f *failingSource) Name() string { return "broken" }

func (f *failingSource) FetchNewAlerts(context.Context) ([]escalation.Alert, error) {
	return nil, errors.New("broker unreachable")
}

func TestRunnerCountsFetchErrors(t *testing.T) {
	st := openStore(t)
	before := testutil.ToFloat64(metrics.AlertSourceErrors.WithLabelValues("broken", "fetch"))
	r := newTestRunner(t, &failingSource{}, st, &fakeEscalator{})
	startRunner(t, r)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.AlertSourceErrors.WithLabelValues("broken", "fetch")) >= before+1
	}, 2*time.Second, 10*time.Millisecond)
}
