// Package apiresponses provides the JSON error envelope and response helpers
// shared by every HTTP controller.
package apiresponses
