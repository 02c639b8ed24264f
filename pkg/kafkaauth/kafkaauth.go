// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package kafkaauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// Supported SASL mechanisms.
const (
	MechanismPlain       = "PLAIN"
	MechanismSCRAMSHA256 = "SCRAM-SHA-256"
	MechanismSCRAMSHA512 = "SCRAM-SHA-512"
)

// Config selects a SASL mechanism. An empty Mechanism disables SASL.
type Config struct {
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// Enabled reports whether a mechanism is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Mechanism) != ""
}

// Mechanism returns the configured SASL mechanism, or nil when SASL is
// disabled. Mechanism names are case-insensitive.
func Mechanism(c Config) (sasl.Mechanism, error) {
	if !c.Enabled() {
		return nil, nil
	}
	switch strings.ToUpper(strings.TrimSpace(c.Mechanism)) {
	case MechanismPlain:
		return plain.Mechanism{Username: c.Username, Password: c.Password}, nil
	case MechanismSCRAMSHA256:
		m, err := scram.Mechanism(scram.SHA256, c.Username, c.Password)
		if err != nil {
			return nil, fmt.Errorf("creating %s mechanism: %w", MechanismSCRAMSHA256, err)
		}
		return m, nil
	case MechanismSCRAMSHA512:
		m, err := scram.Mechanism(scram.SHA512, c.Username, c.Password)
		if err != nil {
			return nil, fmt.Errorf("creating %s mechanism: %w", MechanismSCRAMSHA512, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", c.Mechanism)
	}
}

// Transport returns a writer transport authenticating with c.
func Transport(c Config) (*kafka.Transport, error) {
	m, err := Mechanism(c)
	if err != nil {
		return nil, err
	}
	return &kafka.Transport{SASL: m}, nil
}

// Dialer returns a reader dialer authenticating with c.
func Dialer(c Config) (*kafka.Dialer, error) {
	m, err := Mechanism(c)
	if err != nil {
		return nil, err
	}
	return &kafka.Dialer{
		Timeout:       10 * time.Second,
		DualStack:     true,
		SASLMechanism: m,
	}, nil
}
