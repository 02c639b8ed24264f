// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package voice

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/telekom/voice-escalation/pkg/escalation"
)

// DefaultMessageTemplate is spoken when no template is configured.
const DefaultMessageTemplate = `Critical Alert.
From: {{ .Sender | stripAddress | default "unknown sender" }}.
Subject: {{ .Subject | default "no subject" }}.
{{- with .Preview }}
Message: {{ . | trunc 500 }}.
{{- end }}
Press 1 to confirm you have received this alert.`

// PreviewLength is the number of characters kept from an alert body.
const PreviewLength = 500

var (
	whitespace = regexp.MustCompile(`\s+`)
	address    = regexp.MustCompile(`<.*?>`)
)

// MessageRenderer turns an alert into the text read to contacts.
type MessageRenderer struct {
	tmpl *template.Template
}

// NewMessageRenderer parses tmpl; an empty string selects DefaultMessageTemplate.
func NewMessageRenderer(tmpl string) (*MessageRenderer, error) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultMessageTemplate
	}
	funcMap := sprig.TxtFuncMap()
	funcMap["stripAddress"] = StripAddress
	t, err := template.New("message").Funcs(funcMap).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message template: %w", err)
	}
	return &MessageRenderer{tmpl: t}, nil
}

// Render executes the template for alert and collapses all whitespace runs
// into single spaces.
func (r *MessageRenderer) Render(alert escalation.Alert) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, alert); err != nil {
		return "", fmt.Errorf("failed to render message: %w", err)
	}
	return CollapseWhitespace(buf.String()), nil
}

// StripAddress removes an "<address>" part from a sender such as
// "Ops Team <ops@example.com>".
func StripAddress(sender string) string {
	return strings.TrimSpace(address.ReplaceAllString(sender, ""))
}

// CollapseWhitespace trims s and replaces every whitespace run with one space.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Preview shortens a message body to max characters, appending "..." when
// something was cut.
func Preview(body string, max int) string {
	cleaned := CollapseWhitespace(body)
	runes := []rune(cleaned)
	if max <= 0 || len(runes) <= max {
		return cleaned
	}
	return string(runes[:max]) + "..."
}
