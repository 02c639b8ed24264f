// Package ratelimit provides keyed token bucket rate limiting middleware for
// the provider webhooks and the management API.
package ratelimit
