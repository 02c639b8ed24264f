package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/voice-escalation/pkg/escctl/output"
	"github.com/telekom/voice-escalation/pkg/version"
)

// VersionOutput is printed by "escctl version" in json or yaml.
type VersionOutput struct {
	Client version.BuildInfo  `json:"client" yaml:"client"`
	Server *version.BuildInfo `json:"server,omitempty" yaml:"server,omitempty"`
}

func NewVersionCommand() *cobra.Command {
	var withServer bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show escctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			out := VersionOutput{Client: version.GetBuildInfo()}
			if withServer {
				apiClient, err := buildClient(rt)
				if err != nil {
					return err
				}
				out.Server, err = apiClient.ServerVersion(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to query server version: %w", err)
				}
			}

			if format != output.FormatTable {
				return output.WriteObject(rt.Writer(), format, out)
			}
			_, _ = fmt.Fprintf(rt.Writer(), "escctl %s (commit: %s, built: %s)\n", out.Client.Version, out.Client.GitCommit, out.Client.BuildDate)
			if out.Server != nil {
				_, _ = fmt.Fprintf(rt.Writer(), "escalator %s (commit: %s, built: %s)\n", out.Server.Version, out.Server.GitCommit, out.Server.BuildDate)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withServer, "server-version", false, "Also query the server version")
	return cmd
}
