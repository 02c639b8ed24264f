/*
SPDX-FileCopyrightText: 2026 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/telekom/voice-escalation/pkg/alerts"
	"github.com/telekom/voice-escalation/pkg/escalation"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"json", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteObject(t *testing.T) {
	obj := map[string]int{"count": 42}

	var buf bytes.Buffer
	require.NoError(t, WriteObject(&buf, FormatJSON, obj))
	var fromJSON map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, obj, fromJSON)

	buf.Reset()
	require.NoError(t, WriteObject(&buf, FormatYAML, obj))
	var fromYAML map[string]int
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, obj, fromYAML)

	assert.Error(t, WriteObject(&buf, FormatTable, obj))
	assert.Error(t, WriteObject(&buf, Format("xml"), obj))
}

func TestWriteCallTable(t *testing.T) {
	var buf bytes.Buffer
	WriteCallTable(&buf, []escalation.CallAttempt{{
		ID: "call-1", AlertID: "a-1", LoopNumber: 1, AttemptNumber: 2, ContactName: "Bob",
		Phone: "+491700000002", Status: escalation.StatusConfirmed, Confirmed: true, Duration: 17,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Equal(t, []string{"call-1", "a-1", "1", "2", "Bob", "+491700000002", "confirmed", "true", "17s", "2026-03-01T12:00:00Z"},
		strings.Fields(lines[1]))
}

func TestWriteAlert(t *testing.T) {
	var buf bytes.Buffer
	WriteAlert(&buf, &alerts.AlertResponse{Alert: escalation.Alert{ID: "a-1", Subject: "Disk full", Processed: true}})

	out := buf.String()
	assert.Contains(t, out, "a-1")
	assert.Contains(t, out, "Disk full")
	assert.Contains(t, out, "unconfirmed")
	assert.Contains(t, out, "No calls placed.")
}

func TestAlertState(t *testing.T) {
	assert.Equal(t, "escalating", alertState(escalation.Alert{}))
	assert.Equal(t, "confirmed", alertState(escalation.Alert{Processed: true, Confirmed: true}))
	assert.Equal(t, "unconfirmed", alertState(escalation.Alert{Processed: true}))
}
