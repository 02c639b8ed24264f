// Package kafkaauth builds SASL authenticated kafka-go dialers and transports.
package kafkaauth
