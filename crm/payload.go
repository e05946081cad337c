// ABOUTME: Canonical CRM payload built from a finished training session
// ABOUTME: Provider clients translate this shape into their own wire format
package crm

import (
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/crmsync/models"
)

// Payload is provider neutral. It is stored verbatim on the sync log so a
// retry can replay exactly what was sent.
type Payload struct {
	SessionID    string         `json:"session_id"`
	Subject      string         `json:"subject"`
	Body         string         `json:"body"`
	Priority     string         `json:"priority"`
	Completed    bool           `json:"completed"`
	ActivityAt   time.Time      `json:"activity_at"`
	ContactEmail string         `json:"contact_email,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
}

// BuildPayload summarises a session and attaches the mapped extra fields.
func BuildPayload(s *models.SessionSummary, fields map[string]any) Payload {
	return Payload{
		SessionID:    s.SessionID,
		Subject:      fmt.Sprintf("Sales training: grade %s (%s/100)", s.Grade, formatScore(s.Score)),
		Body:         describeSession(s),
		Priority:     s.Priority(),
		Completed:    s.Completed(),
		ActivityAt:   s.ActivityTime().UTC(),
		ContactEmail: strings.TrimSpace(s.UserEmail),
		Fields:       fields,
	}
}

func describeSession(s *models.SessionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trainee: %s\n", s.UserName)
	fmt.Fprintf(&b, "Mode: %s\n", salesModeLabel(s.SalesMode))
	fmt.Fprintf(&b, "Outcome: %s\n", strings.ReplaceAll(s.Outcome, "_", " "))
	fmt.Fprintf(&b, "Score: %s/100\n", formatScore(s.Score))
	fmt.Fprintf(&b, "Grade: %s\n", s.Grade)
	fmt.Fprintf(&b, "Duration: %s\n", formatDuration(s.Duration))
	fmt.Fprintf(&b, "Messages: %d", s.MessageCount)
	return b.String()
}

func salesModeLabel(mode string) string {
	switch mode {
	case models.SalesModeAISells:
		return "AI sells, trainee buys"
	case models.SalesModeUserSells:
		return "Trainee sells, AI buys"
	default:
		return mode
	}
}

func formatScore(score float64) string {
	if score == float64(int64(score)) {
		return fmt.Sprintf("%d", int64(score))
	}
	return fmt.Sprintf("%.1f", score)
}

func formatDuration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}
