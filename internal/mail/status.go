package mail

import (
	"fmt"
	"strings"
)

const (
	defaultName   = "Photographer"
	defaultReason = "No reason provided"
	defaultDate   = "Unknown"
)

// StatusUpdate is what a review notification reports about one photo.
type StatusUpdate struct {
	PhotoID  string
	Name     string
	Decision string
	Reason   string
	Date     string
}

// StatusMessage formats the email sent when a review decision is recorded.
// Empty name, reason and date fall back to fixed placeholders.
func StatusMessage(to string, u StatusUpdate) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", orDefault(u.Name, defaultName))
	fmt.Fprintf(&b, "Your image '%s' has been reviewed.\n\n", u.PhotoID)
	fmt.Fprintf(&b, "Decision: %s\n", u.Decision)
	fmt.Fprintf(&b, "Reason: %s\n", orDefault(u.Reason, defaultReason))
	fmt.Fprintf(&b, "Date: %s\n", orDefault(u.Date, defaultDate))
	return Message{
		To:      to,
		Subject: "Image Status Update: " + u.Decision,
		Body:    b.String(),
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
