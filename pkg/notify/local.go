// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"sync"
)

// Local is an in-process notifier. Publish never blocks: each subscriber has a
// one slot buffer and pending signals coalesce.
type Local struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewLocal creates an empty in-process notifier.
func NewLocal() *Local {
	return &Local{subs: make(map[string]map[chan struct{}]struct{})}
}

// Publish signals every current subscriber of attemptID.
func (l *Local) Publish(_ context.Context, attemptID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs[attemptID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers interest in attemptID. The returned function must be
// called to release the subscription; it is safe to call more than once.
func (l *Local) Subscribe(attemptID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	set, ok := l.subs[attemptID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		l.subs[attemptID] = set
	}
	set[ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.subs[attemptID], ch)
			if len(l.subs[attemptID]) == 0 {
				delete(l.subs, attemptID)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions for attemptID.
func (l *Local) Subscribers(attemptID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs[attemptID])
}
