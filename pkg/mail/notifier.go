package mail

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/escalation"
)

// Notifier tells operators about escalations that ended unconfirmed.
type Notifier struct {
	queue      *Queue
	recipients []string
	log        *zap.SugaredLogger
}

// NewNotifier creates a notifier enqueueing mails to recipients.
func NewNotifier(queue *Queue, recipients []string, log *zap.SugaredLogger) *Notifier {
	return &Notifier{queue: queue, recipients: recipients, log: log.Named("mail-notifier")}
}

// NotifyUnconfirmed enqueues the exhaustion mail for alert.
func (n *Notifier) NotifyUnconfirmed(_ context.Context, alert escalation.Alert, outcome *escalation.Outcome) error {
	body, err := RenderExhausted(ExhaustedParams(alert, outcome))
	if err != nil {
		return fmt.Errorf("render exhaustion mail for alert %s: %w", alert.ID, err)
	}
	if err := n.queue.Enqueue("exhausted-"+alert.ID, n.recipients, ExhaustedSubject(alert), body); err != nil {
		return fmt.Errorf("enqueue exhaustion mail for alert %s: %w", alert.ID, err)
	}
	n.log.Infow("Operator notified about unconfirmed alert", "alertID", alert.ID, "recipients", len(n.recipients))
	return nil
}
