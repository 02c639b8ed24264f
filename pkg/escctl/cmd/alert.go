package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/voice-escalation/pkg/alerts"
	"github.com/telekom/voice-escalation/pkg/escctl/client"
	"github.com/telekom/voice-escalation/pkg/escctl/output"
)

func NewAlertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alerts",
		Aliases: []string{"alert"},
		Short:   "Trigger and inspect alerts",
	}
	cmd.AddCommand(
		newAlertTriggerCommand(),
		newAlertGetCommand(),
	)
	return cmd
}

func newAlertTriggerCommand() *cobra.Command {
	var req alerts.TriggerRequest
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start an escalation for a manual alert",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.Subject == "" && req.Body == "" {
				return errors.New("--subject or --body is required")
			}
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
			resp, err := apiClient.TriggerAlert(cmd.Context(), req)
			if err != nil {
				return err
			}
			if format == output.FormatTable {
				output.WriteTriggerResult(rt.Writer(), resp)
				return nil
			}
			return output.WriteObject(rt.Writer(), format, resp)
		},
	}
	cmd.Flags().StringVar(&req.Subject, "subject", "", "Alert subject")
	cmd.Flags().StringVar(&req.Body, "body", "", "Alert body, read to the callee")
	cmd.Flags().StringVar(&req.Sender, "sender", "escctl", "Sender announced in the call")
	cmd.Flags().StringVar(&req.ExternalID, "external-id", "", "Deduplication key")
	return cmd
}

func newAlertGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show an alert and its call attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			alert, err := apiClient.GetAlert(cmd.Context(), args[0])
			if client.IsNotFound(err) {
				return fmt.Errorf("alert %s not found", args[0])
			}
			if err != nil {
				return err
			}
			if format == output.FormatTable {
				output.WriteAlert(rt.Writer(), alert)
				return nil
			}
			return output.WriteObject(rt.Writer(), format, alert)
		},
	}
}
