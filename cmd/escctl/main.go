package main

import (
	"fmt"
	"os"

	escctlcmd "github.com/telekom/voice-escalation/pkg/escctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := escctlcmd.NewRootCommand(escctlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
