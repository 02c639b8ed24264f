// Package utils provides shared helpers for the escalation service, currently
// the conflict retry loop used by compare-and-set store writes.
package utils
