// Package mail sends operator notifications over SMTP, queued with retries,
// when an alert escalation ends without anyone confirming.
package mail
