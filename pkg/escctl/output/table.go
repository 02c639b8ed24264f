package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/telekom/voice-escalation/pkg/alerts"
	"github.com/telekom/voice-escalation/pkg/escalation"
)

func WriteCallTable(w io.Writer, attempts []escalation.CallAttempt) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tALERT\tLOOP\tATTEMPT\tCONTACT\tPHONE\tSTATUS\tCONFIRMED\tDURATION\tCREATED")
	for _, a := range attempts {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\t%t\t%ds\t%s\n",
			a.ID, a.AlertID, a.LoopNumber, a.AttemptNumber, a.ContactName, a.Phone,
			string(a.Status), a.Confirmed, a.Duration, formatTime(a.CreatedAt))
	}
	_ = tw.Flush()
}

// WriteAlert prints the alert summary followed by its call table.
func WriteAlert(w io.Writer, a *alerts.AlertResponse) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID:\t%s\n", a.ID)
	_, _ = fmt.Fprintf(tw, "EXTERNAL ID:\t%s\n", dash(a.ExternalID))
	_, _ = fmt.Fprintf(tw, "SOURCE:\t%s\n", dash(a.Source))
	_, _ = fmt.Fprintf(tw, "SENDER:\t%s\n", dash(a.Sender))
	_, _ = fmt.Fprintf(tw, "SUBJECT:\t%s\n", dash(a.Subject))
	_, _ = fmt.Fprintf(tw, "RECEIVED:\t%s\n", formatTime(a.ReceivedAt))
	_, _ = fmt.Fprintf(tw, "STATE:\t%s\n", alertState(a.Alert))
	_ = tw.Flush()
	if len(a.Calls) == 0 {
		_, _ = fmt.Fprintln(w, "\nNo calls placed.")
		return
	}
	_, _ = fmt.Fprintln(w)
	WriteCallTable(w, a.Calls)
}

func WriteTriggerResult(w io.Writer, r *alerts.TriggerResponse) {
	_, _ = fmt.Fprintf(w, "Alert %s accepted (external id %s)\n", r.ID, r.ExternalID)
}

func alertState(a escalation.Alert) string {
	switch {
	case !a.Processed:
		return "escalating"
	case a.Confirmed:
		return "confirmed"
	default:
		return "unconfirmed"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
