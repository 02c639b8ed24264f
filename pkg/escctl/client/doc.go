// Package client is the REST client used by escctl to talk to the escalator
// API.
package client
