// Package voice renders what a contact hears: the spoken alert message and
// the TwiML documents that drive the call.
package voice
