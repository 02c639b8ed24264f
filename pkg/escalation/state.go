// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"errors"
	"fmt"

	"github.com/telekom/voice-escalation/pkg/metrics"
	"github.com/telekom/voice-escalation/pkg/utils"
)

// transitionFunc computes the next state from the current one and reports
// whether anything changes.
type transitionFunc func(cur AttemptState) (AttemptState, bool)

// updateState applies fn to the stored attempt with compare-and-set semantics,
// re-reading and retrying when a concurrent writer got there first. It returns
// the attempt as read before the winning write and whether a write happened.
func updateState(ctx context.Context, store CallRecordStore, retry utils.RetryConfig, id string, fn transitionFunc) (*CallAttempt, bool, error) {
	var (
		current *CallAttempt
		changed bool
	)
	err := utils.RetryOnConflict(ctx, retry, func(int) error {
		a, err := store.GetAttempt(ctx, id)
		if err != nil {
			return err
		}
		current = a
		next, ok := fn(a.State())
		if !ok {
			changed = false
			return nil
		}
		swapped, err := store.CompareAndSwapState(ctx, id, a.State(), next)
		if err != nil {
			return err
		}
		if !swapped {
			metrics.CallStateConflicts.Inc()
			return utils.ErrConflict
		}
		changed = true
		return nil
	})
	if errors.Is(err, utils.ErrConflict) {
		return current, false, fmt.Errorf("%w: %s", ErrStateConflict, id)
	}
	return current, changed, err
}
