// Package notify fans out "call attempt changed" signals from the status
// tracker to goroutines waiting on that attempt. Local delivers within one
// process; Redis additionally relays signals between replicas that share a
// call store.
package notify
