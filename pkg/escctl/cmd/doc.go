// Package cmd implements the escctl cobra command tree.
package cmd
