package notify

import (
	"fmt"
	"strings"

	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/utils"
)

const maxMessageLen = 500

// FormatTitle returns a one-line subject for the notification
func FormatTitle(p Payload) string {
	return fmt.Sprintf("[%s] %s %s (tier %d)", strings.ToUpper(p.Severity), p.DeviceID, p.Metric, p.TierNumber)
}

// FormatText renders a plain-text body for email and SMS
func FormatText(p Payload) string {
	var sb strings.Builder
	sb.WriteString(FormatTitle(p))
	sb.WriteString("\n")
	if p.Message != "" {
		sb.WriteString(utils.TruncateText(p.Message, maxMessageLen))
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("Alert #%d, open since %s\n", p.AlertID, p.CreatedAt.UTC().Format("2006-01-02 15:04 MST")))
	if p.DeepLink != "" {
		sb.WriteString(p.DeepLink)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatSlack renders a Slack mrkdwn message
func FormatSlack(p Payload) string {
	var sb strings.Builder

	emoji := database.GetSeverityEmoji(database.Severity(p.Severity))
	sb.WriteString(fmt.Sprintf("%s *%s alert escalated to tier %d*\n", emoji, strings.ToUpper(p.Severity), p.TierNumber))
	sb.WriteString(fmt.Sprintf("*Device:* %s  *Metric:* %s\n", p.DeviceID, p.Metric))
	if p.Message != "" {
		sb.WriteString(fmt.Sprintf("> %s\n", utils.TruncateText(p.Message, maxMessageLen)))
	}
	if len(p.Recipients) > 0 {
		sb.WriteString(fmt.Sprintf("*Paging:* %s\n", strings.Join(p.Recipients, ", ")))
	}
	if p.DeepLink != "" {
		sb.WriteString(fmt.Sprintf("<%s|Open alert #%d>", p.DeepLink, p.AlertID))
	}
	return strings.TrimRight(sb.String(), "\n")
}
