// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/telekom/voice-escalation/pkg/escalation"
)

const callColumns = `id, alert_id, contact_id, contact_name, phone, status, confirmed, attempt_number,
	loop_number, provider_call_id, duration, error_message, spoken_message, created_at, updated_at`

// MaxListLimit caps the page size of ListAttempts.
const MaxListLimit = 500

// AttemptFilter narrows ListAttempts.
type AttemptFilter struct {
	AlertID string
	Limit   int
	Offset  int
}

// CreateAttempt inserts a new call attempt.
func (s *Store) CreateAttempt(ctx context.Context, a *escalation.CallAttempt) error {
	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO calls (`+callColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.AlertID, a.ContactID, a.ContactName, a.Phone, string(a.Status), boolToInt(a.Confirmed),
		a.AttemptNumber, a.LoopNumber, nullString(a.ProviderCallID), a.Duration, nullString(a.ErrorMessage),
		a.Message, toMillis(a.CreatedAt), toMillis(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create call attempt: %w", err)
	}
	return nil
}

// GetAttempt returns the attempt with the given id or escalation.ErrAttemptNotFound.
func (s *Store) GetAttempt(ctx context.Context, id string) (*escalation.CallAttempt, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+callColumns+` FROM calls WHERE id = ?`), id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", escalation.ErrAttemptNotFound, id)
	}
	return a, err
}

// CompareAndSwapState writes next only when status and confirmed still equal
// expected. The update is a single conditional statement, so concurrent
// writers on other replicas are serialized by the database.
func (s *Store) CompareAndSwapState(ctx context.Context, id string, expected, next escalation.AttemptState) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE calls SET status = ?, confirmed = ?, duration = ?, updated_at = ?
		WHERE id = ? AND status = ? AND confirmed = ?`),
		string(next.Status), boolToInt(next.Confirmed), next.Duration, toMillis(s.now()),
		id, string(expected.Status), boolToInt(expected.Confirmed))
	if err != nil {
		return false, fmt.Errorf("update call state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update call state: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetAttempt(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SetProviderCallID records the provider's reference for an attempt.
func (s *Store) SetProviderCallID(ctx context.Context, id, providerCallID string) error {
	return s.setColumn(ctx, id, "provider_call_id", nullString(providerCallID))
}

// SetErrorMessage records why an attempt failed.
func (s *Store) SetErrorMessage(ctx context.Context, id, message string) error {
	return s.setColumn(ctx, id, "error_message", nullString(message))
}

func (s *Store) setColumn(ctx context.Context, id, column string, value any) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE calls SET `+column+` = ?, updated_at = ? WHERE id = ?`),
		value, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("update call %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update call %s: %w", column, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", escalation.ErrAttemptNotFound, id)
	}
	return nil
}

// ListAttempts returns attempts newest first, optionally for one alert only.
func (s *Store) ListAttempts(ctx context.Context, f AttemptFilter) ([]escalation.CallAttempt, error) {
	if f.Limit <= 0 || f.Limit > MaxListLimit {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT ` + callColumns + ` FROM calls`
	args := []any{}
	if f.AlertID != "" {
		query += ` WHERE alert_id = ?`
		args = append(args, f.AlertID)
	}
	query += ` ORDER BY created_at DESC, loop_number DESC, attempt_number DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list call attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []escalation.CallAttempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAttempt(row rowScanner) (*escalation.CallAttempt, error) {
	var (
		a              escalation.CallAttempt
		status         string
		confirmed      int
		providerCallID sql.NullString
		errorMessage   sql.NullString
		createdAt      int64
		updatedAt      int64
	)
	err := row.Scan(&a.ID, &a.AlertID, &a.ContactID, &a.ContactName, &a.Phone, &status, &confirmed,
		&a.AttemptNumber, &a.LoopNumber, &providerCallID, &a.Duration, &errorMessage, &a.Message,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan call attempt: %w", err)
	}
	a.Status = escalation.CallStatus(status)
	a.Confirmed = confirmed != 0
	a.ProviderCallID = providerCallID.String
	a.ErrorMessage = errorMessage.String
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return &a, nil
}

var _ escalation.CallRecordStore = (*Store)(nil)
