// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// memStore is an in-memory CallRecordStore with hooks for failure injection.
type memStore struct {
	mu       sync.Mutex
	attempts map[string]*CallAttempt
	order    []string

	createErr error
	getErr    error
	// beforeSwap runs before every compare-and-set, outside the lock.
	beforeSwap func(id string)
	swaps      int
}

func newMemStore() *memStore {
	return &memStore{attempts: make(map[string]*CallAttempt)}
}

func (s *memStore) CreateAttempt(_ context.Context, a *CallAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.attempts[a.ID]; ok {
		return fmt.Errorf("duplicate attempt %s", a.ID)
	}
	cp := *a
	s.attempts[a.ID] = &cp
	s.order = append(s.order, a.ID)
	return nil
}

func (s *memStore) GetAttempt(_ context.Context, id string) (*CallAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	a, ok := s.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) CompareAndSwapState(_ context.Context, id string, expected, next AttemptState) (bool, error) {
	if s.beforeSwap != nil {
		s.beforeSwap(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swaps++
	a, ok := s.attempts[id]
	if !ok {
		return false, ErrAttemptNotFound
	}
	if a.Status != expected.Status || a.Confirmed != expected.Confirmed {
		return false, nil
	}
	a.Status, a.Confirmed, a.Duration = next.Status, next.Confirmed, next.Duration
	a.UpdatedAt = time.Now()
	return true, nil
}

func (s *memStore) SetProviderCallID(_ context.Context, id, providerCallID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return ErrAttemptNotFound
	}
	a.ProviderCallID = providerCallID
	return nil
}

func (s *memStore) SetErrorMessage(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return ErrAttemptNotFound
	}
	a.ErrorMessage = message
	return nil
}

// put stores an attempt directly, bypassing the dispatcher.
func (s *memStore) put(a CallAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = &a
	s.order = append(s.order, a.ID)
}

func (s *memStore) snapshot(id string) CallAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.attempts[id]
}

// fakeProvider records every call request.
type fakeProvider struct {
	mu       sync.Mutex
	requests []CallRequest
	// failFor rejects calls to the given phone numbers.
	failFor map[string]error
	onPlace func(req CallRequest)
}

func (p *fakeProvider) PlaceCall(_ context.Context, req CallRequest) (string, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	n := len(p.requests)
	err := p.failFor[req.To]
	hook := p.onPlace
	p.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CA%03d", n), nil
}

// dispatchCall is one call observed by scriptedDispatcher.
type dispatchCall struct {
	ContactID string
	Loop      int
	Attempt   int
	Message   string
}

// scriptedDispatcher returns synthetic attempts and can fail selected contacts.
type scriptedDispatcher struct {
	mu      sync.Mutex
	calls   []dispatchCall
	failFor map[string]error
	// onDispatch runs after recording the call.
	onDispatch func(n int)
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, alert Alert, contact Contact, loop, attempt int, message string) (*CallAttempt, error) {
	d.mu.Lock()
	d.calls = append(d.calls, dispatchCall{ContactID: contact.ID, Loop: loop, Attempt: attempt, Message: message})
	n := len(d.calls)
	err := d.failFor[contact.ID]
	hook := d.onDispatch
	d.mu.Unlock()
	if hook != nil {
		hook(n)
	}

	a := &CallAttempt{
		ID:            fmt.Sprintf("att-%d", n),
		AlertID:       alert.ID,
		ContactID:     contact.ID,
		ContactName:   contact.Name,
		Phone:         contact.Phone,
		Status:        StatusQueued,
		LoopNumber:    loop,
		AttemptNumber: attempt,
	}
	if err != nil {
		a.Status = StatusFailed
		a.ErrorMessage = err.Error()
		return a, &DispatchError{AttemptID: a.ID, Phone: contact.Phone, Err: err}
	}
	return a, nil
}

func (d *scriptedDispatcher) recorded() []dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatchCall(nil), d.calls...)
}

// scriptedWaiter answers every wait through resolve.
type scriptedWaiter struct {
	mu       sync.Mutex
	waits    []string
	timeouts []time.Duration
	resolve  func(ctx context.Context, attemptID string) (Resolution, error)
}

func (w *scriptedWaiter) Wait(ctx context.Context, attemptID string, timeout time.Duration) (Resolution, error) {
	w.mu.Lock()
	w.waits = append(w.waits, attemptID)
	w.timeouts = append(w.timeouts, timeout)
	w.mu.Unlock()
	if w.resolve == nil {
		return ResolutionTerminalUnconfirmed, nil
	}
	return w.resolve(ctx, attemptID)
}

// recordingRecorder captures EventRecorder calls.
type recordingRecorder struct {
	mu       sync.Mutex
	started  int
	failed   []error
	resolved []Resolution
	finished []*Outcome
	// reported holds the attempt passed to every CallFailed and CallResolved.
	reported []CallAttempt
}

func (r *recordingRecorder) EscalationStarted(context.Context, Alert, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recordingRecorder) CallFailed(_ context.Context, a CallAttempt, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
	r.reported = append(r.reported, a)
}

func (r *recordingRecorder) CallResolved(_ context.Context, a CallAttempt, res Resolution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, res)
	r.reported = append(r.reported, a)
}

func (r *recordingRecorder) EscalationFinished(_ context.Context, _ Alert, o *Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, o)
}

var errRejected = errors.New("invalid phone number")

func contacts(names ...string) []Contact {
	out := make([]Contact, 0, len(names))
	for i, n := range names {
		out = append(out, Contact{
			ID:     "c-" + n,
			Name:   n,
			Phone:  fmt.Sprintf("+4917000000%02d", i+1),
			Order:  i + 1,
			Active: true,
		})
	}
	return out
}

func intPtr(v int) *int { return &v }
