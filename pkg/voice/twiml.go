// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package voice

import (
	"encoding/xml"
	"fmt"
)

// Phrases spoken by the call flow outside the alert message itself.
const (
	NoInputPhrase       = "No confirmation received. Goodbye."
	ConfirmedPhrase     = "Thank you for confirming. The alert has been acknowledged."
	InvalidInputPhrase  = "Invalid input. Goodbye."
	UnavailablePhrase   = "This alert is no longer available. Goodbye."
	DefaultVoice        = "Polly.Joanna-Neural"
	DefaultLanguage     = "en-US"
	DefaultGatherWindow = 10
)

// Speech selects the provider voice.
type Speech struct {
	Voice    string
	Language string
	// GatherTimeout is how many seconds the caller has to press a key.
	GatherTimeout int
}

// DefaultSpeech returns the built-in neural voice settings.
func DefaultSpeech() Speech {
	return Speech{Voice: DefaultVoice, Language: DefaultLanguage, GatherTimeout: DefaultGatherWindow}
}

type response struct {
	XMLName xml.Name  `xml:"Response"`
	Gather  *gather   `xml:"Gather,omitempty"`
	Say     []say     `xml:"Say"`
	Hangup  *struct{} `xml:"Hangup,omitempty"`
}

type gather struct {
	NumDigits int    `xml:"numDigits,attr"`
	Timeout   int    `xml:"timeout,attr"`
	Action    string `xml:"action,attr"`
	Method    string `xml:"method,attr"`
	Say       say    `xml:"Say"`
}

type say struct {
	Voice    string `xml:"voice,attr,omitempty"`
	Language string `xml:"language,attr,omitempty"`
	Text     string `xml:",chardata"`
}

func (s Speech) say(text string) say {
	return say{Voice: s.Voice, Language: s.Language, Text: text}
}

// Instructions renders the document the provider fetches when the call is
// answered: the message inside a one digit gather posting to gatherURL, then a
// goodbye if no key was pressed.
func (s Speech) Instructions(message, gatherURL string) ([]byte, error) {
	timeout := s.GatherTimeout
	if timeout <= 0 {
		timeout = DefaultGatherWindow
	}
	return marshal(response{
		Gather: &gather{
			NumDigits: 1,
			Timeout:   timeout,
			Action:    gatherURL,
			Method:    "POST",
			Say:       s.say(message),
		},
		Say: []say{s.say(NoInputPhrase)},
	})
}

// Reply renders a document that says text and hangs up.
func (s Speech) Reply(text string) ([]byte, error) {
	return marshal(response{Say: []say{s.say(text)}, Hangup: &struct{}{}})
}

func marshal(r response) ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to render twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
