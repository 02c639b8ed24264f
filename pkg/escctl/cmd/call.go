package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telekom/voice-escalation/pkg/escctl/client"
	"github.com/telekom/voice-escalation/pkg/escctl/output"
)

func NewCallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calls",
		Aliases: []string{"call"},
		Short:   "Inspect call attempts",
	}
	cmd.AddCommand(newCallListCommand())
	return cmd
}

func newCallListCommand() *cobra.Command {
	var filter client.CallFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List call attempts, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			resp, err := apiClient.ListCalls(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if format == output.FormatTable {
				output.WriteCallTable(rt.Writer(), resp.Calls)
				return nil
			}
			return output.WriteObject(rt.Writer(), format, resp)
		},
	}
	cmd.Flags().StringVar(&filter.AlertID, "alert-id", "", "Only calls for this alert")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of calls")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Number of calls to skip")
	return cmd
}
