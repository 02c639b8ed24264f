// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/voice-escalation/pkg/notify"
	"github.com/telekom/voice-escalation/pkg/utils"
)

func seededStore(status CallStatus) *memStore {
	s := newMemStore()
	s.put(CallAttempt{ID: "att-1", AlertID: "alert-1", Status: status, LoopNumber: 1, AttemptNumber: 1})
	return s
}

func TestStatusEventProgression(t *testing.T) {
	store := seededStore(StatusQueued)
	tr := NewCallStatusTracker(store, nil, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	changed, err := tr.OnStatusEvent(ctx, "att-1", "ringing", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = tr.OnStatusEvent(ctx, "att-1", "In-Progress", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	// late lower ranked event does not regress
	changed, err = tr.OnStatusEvent(ctx, "att-1", "ringing", nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, StatusInProgress, store.snapshot("att-1").Status)

	changed, err = tr.OnStatusEvent(ctx, "att-1", "completed", intPtr(42))
	require.NoError(t, err)
	assert.True(t, changed)
	a := store.snapshot("att-1")
	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, 42, a.Duration)
}

func TestDuplicateStatusWebhookIsNoop(t *testing.T) {
	store := seededStore(StatusInProgress)
	notifier := notify.NewLocal()
	tr := NewCallStatusTracker(store, notifier, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	ch, cancel := notifier.Subscribe("att-1")
	defer cancel()

	changed, err := tr.OnStatusEvent(ctx, "att-1", "completed", intPtr(30))
	require.NoError(t, err)
	assert.True(t, changed)
	<-ch
	first := store.snapshot("att-1")
	swaps := store.swaps

	changed, err = tr.OnStatusEvent(ctx, "att-1", "completed", intPtr(30))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, first, store.snapshot("att-1"))
	assert.Equal(t, swaps, store.swaps, "no write for a duplicate")
	select {
	case <-ch:
		t.Fatal("duplicate must not notify")
	default:
	}
}

func TestTerminalStatusIsFinal(t *testing.T) {
	store := seededStore(StatusBusy)
	tr := NewCallStatusTracker(store, nil, zaptest.NewLogger(t).Sugar())

	changed, err := tr.OnStatusEvent(context.Background(), "att-1", "completed", nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, StatusBusy, store.snapshot("att-1").Status)
}

func TestConfirmationLatch(t *testing.T) {
	store := seededStore(StatusInProgress)
	tr := NewCallStatusTracker(store, nil, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	changed, err := tr.OnConfirmationEvent(ctx, "att-1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = tr.OnConfirmationEvent(ctx, "att-1")
	require.NoError(t, err)
	assert.False(t, changed)

	for _, s := range []string{"ringing", "completed", "failed", "no-answer"} {
		_, err := tr.OnStatusEvent(ctx, "att-1", s, nil)
		require.NoError(t, err)
	}
	// a late duration is still recorded
	changed, err = tr.OnStatusEvent(ctx, "att-1", "completed", intPtr(17))
	require.NoError(t, err)
	assert.True(t, changed)

	a := store.snapshot("att-1")
	assert.True(t, a.Confirmed)
	assert.Equal(t, StatusConfirmed, a.Status)
	assert.Equal(t, 17, a.Duration)
}

func TestConfirmationAfterTerminalStatus(t *testing.T) {
	// the gather callback may arrive after "completed"
	store := seededStore(StatusCompleted)
	tr := NewCallStatusTracker(store, nil, zaptest.NewLogger(t).Sugar())

	changed, err := tr.OnConfirmationEvent(context.Background(), "att-1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, store.snapshot("att-1").Confirmed)
}

func TestStatusEventMalformed(t *testing.T) {
	store := seededStore(StatusQueued)
	tr := NewCallStatusTracker(store, nil, zaptest.NewLogger(t).Sugar())

	for _, s := range []string{"", "exploded", "confirmed"} {
		_, err := tr.OnStatusEvent(context.Background(), "att-1", s, nil)
		require.ErrorIs(t, err, ErrWebhookMalformed, s)
	}
	assert.Equal(t, StatusQueued, store.snapshot("att-1").Status)
	assert.Zero(t, store.swaps)
}

func TestStatusEventUnknownAttempt(t *testing.T) {
	tr := NewCallStatusTracker(newMemStore(), nil, zaptest.NewLogger(t).Sugar())

	_, err := tr.OnStatusEvent(context.Background(), "missing", "ringing", nil)
	require.ErrorIs(t, err, ErrAttemptNotFound)
	_, err = tr.OnConfirmationEvent(context.Background(), "missing")
	require.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestStatusEventRetriesOnConflict(t *testing.T) {
	store := seededStore(StatusRinging)
	tr := NewCallStatusTracker(store, nil, zaptest.NewLogger(t).Sugar())
	tr.retry = utils.RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}

	// a concurrent confirmation sneaks in before the first swap
	var once sync.Once
	store.beforeSwap = func(id string) {
		once.Do(func() {
			store.mu.Lock()
			store.attempts[id].Confirmed = true
			store.attempts[id].Status = StatusConfirmed
			store.mu.Unlock()
		})
	}

	changed, err := tr.OnStatusEvent(context.Background(), "att-1", "completed", intPtr(5))
	require.NoError(t, err)
	assert.True(t, changed, "duration is still recorded after the retry")

	a := store.snapshot("att-1")
	assert.True(t, a.Confirmed)
	assert.Equal(t, StatusConfirmed, a.Status)
	assert.Equal(t, 5, a.Duration)
}

func TestStatusEventConflictBudgetExhausted(t *testing.T) {
	store := seededStore(StatusQueued)
	tr := NewCallStatusTracker(store, nil, zaptest.NewLogger(t).Sugar())
	tr.retry = utils.RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}

	// another writer keeps flipping the status between read and swap
	flip := []CallStatus{StatusRinging, StatusQueued}
	n := 0
	store.beforeSwap = func(id string) {
		store.mu.Lock()
		store.attempts[id].Status = flip[n%2]
		store.mu.Unlock()
		n++
	}
	store.attempts["att-1"].Status = StatusInitiated

	_, err := tr.OnStatusEvent(context.Background(), "att-1", "in-progress", nil)
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestConcurrentEventsConverge(t *testing.T) {
	store := seededStore(StatusQueued)
	tr := NewCallStatusTracker(store, notify.NewLocal(), zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	var wg sync.WaitGroup
	events := []string{"ringing", "in-progress", "completed", "ringing", "in-progress"}
	for i := 0; i < 5; i++ {
		for _, ev := range events {
			wg.Add(1)
			go func(ev string) {
				defer wg.Done()
				_, _ = tr.OnStatusEvent(ctx, "att-1", ev, nil)
			}(ev)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tr.OnConfirmationEvent(ctx, "att-1")
		}()
	}
	wg.Wait()

	a := store.snapshot("att-1")
	assert.True(t, a.Confirmed)
	assert.Equal(t, StatusConfirmed, a.Status)
}
