// Package twilio places outbound voice calls through the Twilio REST API.
package twilio
