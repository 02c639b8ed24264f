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

const alertColumns = `id, external_id, source, sender, subject, preview, received_at, processed, confirmed, processed_at`

// CreateAlert stores a new, unprocessed alert. ErrAlertExists is returned when
// the external id is already known. An empty external id defaults to the id.
func (s *Store) CreateAlert(ctx context.Context, a *escalation.Alert) error {
	if a.ID == "" {
		return fmt.Errorf("alert id is required")
	}
	if a.ExternalID == "" {
		a.ExternalID = a.ID
	}
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, NULL)`),
		a.ID, a.ExternalID, a.Source, a.Sender, a.Subject, a.Preview, toMillis(a.ReceivedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAlertExists, a.ExternalID)
		}
		return fmt.Errorf("create alert: %w", err)
	}
	a.Processed, a.Confirmed, a.ProcessedAt = false, false, nil
	return nil
}

// GetAlert returns the alert with the given id.
func (s *Store) GetAlert(ctx context.Context, id string) (*escalation.Alert, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+alertColumns+` FROM alerts WHERE id = ?`), id)
	return scanAlert(row, id)
}

// MarkAlertProcessed flips processed to true and records the confirmation
// result. It reports false when the alert had already been processed, leaving
// the stored result untouched.
func (s *Store) MarkAlertProcessed(ctx context.Context, id string, confirmed bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE alerts SET processed = 1, confirmed = ?, processed_at = ?
		WHERE id = ? AND processed = 0`),
		boolToInt(confirmed), toMillis(s.now()), id)
	if err != nil {
		return false, fmt.Errorf("mark alert processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark alert processed: %w", err)
	}
	if n == 0 {
		if _, err := s.GetAlert(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ListUnprocessedAlerts returns alerts that were stored but never processed,
// oldest first. The runner resumes them after a restart.
func (s *Store) ListUnprocessedAlerts(ctx context.Context, limit int) ([]escalation.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+alertColumns+` FROM alerts
		WHERE processed = 0 ORDER BY received_at ASC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []escalation.Alert
	for rows.Next() {
		a, err := scanAlert(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner, key string) (*escalation.Alert, error) {
	var (
		a           escalation.Alert
		receivedAt  int64
		processed   int
		confirmed   int
		processedAt sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.ExternalID, &a.Source, &a.Sender, &a.Subject, &a.Preview,
		&receivedAt, &processed, &confirmed, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.ReceivedAt = fromMillis(receivedAt)
	a.Processed = processed != 0
	a.Confirmed = confirmed != 0
	if processedAt.Valid {
		t := fromMillis(processedAt.Int64)
		a.ProcessedAt = &t
	}
	return &a, nil
}
