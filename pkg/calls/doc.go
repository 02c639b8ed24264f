// Package calls exposes the call provider webhooks (instructions, status and
// key-press callbacks) and the read API for recorded call attempts.
package calls
