package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/voice-escalation/pkg/escctl/client"
	"github.com/telekom/voice-escalation/pkg/escctl/output"
)

// DefaultServer is used when neither --server nor ESCCTL_SERVER is set.
const DefaultServer = "http://localhost:8080"

type Config struct {
	OutputWriter io.Writer
	ErrorWriter  io.Writer
}

type runtimeState struct {
	server       string
	outputFormat string
	timeout      time.Duration
	caFile       string
	insecure     bool
	verbose      bool
	writer       io.Writer
	errWriter    io.Writer
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{OutputWriter: os.Stdout, ErrorWriter: os.Stderr}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{writer: cfg.OutputWriter, errWriter: cfg.ErrorWriter}

	root := &cobra.Command{
		Use:           "escctl",
		Short:         "Voice escalation CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.errWriter == nil {
				rt.errWriter = os.Stderr
			}
			if rt.server == "" {
				rt.server = os.Getenv("ESCCTL_SERVER")
			}
			if rt.server == "" {
				rt.server = DefaultServer
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("ESCCTL_OUTPUT")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("ESCCTL_VERBOSE"), "true")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.server, "server", "", "Escalator base URL (env ESCCTL_SERVER)")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().DurationVar(&rt.timeout, "timeout", 30*time.Second, "Request timeout")
	root.PersistentFlags().StringVar(&rt.caFile, "ca-file", "", "CA bundle for TLS verification")
	root.PersistentFlags().BoolVar(&rt.insecure, "insecure-skip-tls-verify", false, "Skip TLS certificate verification")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Log requests to stderr")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))
	if cfg.OutputWriter != nil {
		root.SetOut(cfg.OutputWriter)
	}
	if cfg.ErrorWriter != nil {
		root.SetErr(cfg.ErrorWriter)
	}

	root.AddCommand(
		NewAlertCommand(),
		NewCallCommand(),
		NewVersionCommand(),
	)
	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) OutputFormat() (output.Format, error) {
	return output.ParseFormat(rt.outputFormat)
}

func buildClient(rt *runtimeState) (*client.Client, error) {
	options := []client.Option{
		client.WithServer(rt.server),
		client.WithTimeout(rt.timeout),
	}
	if rt.caFile != "" || rt.insecure {
		options = append(options, client.WithTLSConfig(rt.caFile, rt.insecure))
	}
	// verbose output goes to stderr so JSON output stays parseable
	if rt.verbose {
		errWriter := rt.errWriter
		options = append(options, client.WithVerbose(func(format string, args ...any) {
			_, _ = fmt.Fprintf(errWriter, "[DEBUG] "+format+"\n", args...)
		}))
	}
	return client.New(options...)
}
