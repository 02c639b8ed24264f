package mail

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"time"

	"github.com/telekom/voice-escalation/pkg/escalation"
)

// AttemptLine is one row of the call table in the exhaustion mail.
type AttemptLine struct {
	Loop    int
	Attempt int
	Contact string
	Phone   string
	Status  string
	Error   string
}

type ExhaustedMailParams struct {
	AlertID      string
	Subject      string
	Sender       string
	ReceivedAt   string
	Loops        int
	NoContacts   bool
	Attempts     []AttemptLine
	BrandingName string
}

var (
	exhaustedTemplate = template.New("exhausted")

	//go:embed templates/exhausted.html
	exhaustedTemplateRaw string
)

func init() {
	if _, err := exhaustedTemplate.Parse(exhaustedTemplateRaw); err != nil {
		panic(err)
	}
}

func render(t *template.Template, p any) (string, error) {
	b := bytes.Buffer{}
	err := t.Execute(&b, p)
	return b.String(), err
}

func RenderExhausted(p ExhaustedMailParams) (string, error) {
	return render(exhaustedTemplate, p)
}

// ExhaustedParams builds the mail parameters for an escalation nobody
// confirmed.
func ExhaustedParams(alert escalation.Alert, outcome *escalation.Outcome) ExhaustedMailParams {
	p := ExhaustedMailParams{
		AlertID:      alert.ID,
		Subject:      alert.Subject,
		Sender:       alert.Sender,
		ReceivedAt:   alert.ReceivedAt.UTC().Format(time.RFC1123),
		BrandingName: "Voice Escalation",
	}
	if outcome == nil {
		return p
	}
	p.Loops = outcome.Loops
	p.NoContacts = len(outcome.Attempts) == 0
	for _, a := range outcome.Attempts {
		p.Attempts = append(p.Attempts, AttemptLine{
			Loop:    a.LoopNumber,
			Attempt: a.AttemptNumber,
			Contact: a.ContactName,
			Phone:   a.Phone,
			Status:  string(a.Status),
			Error:   a.ErrorMessage,
		})
	}
	return p
}

// ExhaustedSubject is the subject line of the exhaustion mail.
func ExhaustedSubject(alert escalation.Alert) string {
	if alert.Subject == "" {
		return fmt.Sprintf("[Unacknowledged] Alert %s", alert.ID)
	}
	return fmt.Sprintf("[Unacknowledged] %s", alert.Subject)
}
