package api

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/obsidianstack/alertengine/pkg/types"
)

// unackedAfter is how long an OPEN alert may sit before it is flagged.
const unackedAfter = 30 * time.Minute

// DiagnosticHint is one human-readable observation about an alert's
// delivery and response. Clients render them as chips next to the alert.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level  string   `json:"level"`
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Value  *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from an alert and its delivery attempts.
// Hints are ordered critical first, then warnings, then info.
func computeDiagnostics(a *types.Alert, attempts []types.NotificationAttempt, now time.Time) []DiagnosticHint {
	var hints []DiagnosticHint

	var failed, pending, retried int
	failedBy := make(map[string]string)
	for _, at := range attempts {
		switch at.Outcome {
		case types.OutcomeFailed:
			failed++
			failedBy[at.Channel] = at.Error
		case types.OutcomePending:
			pending++
		case types.OutcomeDelivered:
			if at.RetryCount > 0 {
				retried++
			}
		}
	}

	// ── Delivery failures ────────────────────────────────────────────────────
	channels := make([]string, 0, len(failedBy))
	for ch := range failedBy {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	for _, ch := range channels {
		msg := failedBy[ch]
		hints = append(hints, DiagnosticHint{
			Key:    "delivery_failed_" + ch,
			Level:  "critical",
			Title:  fmt.Sprintf("%s delivery failed", ch),
			Detail: fmt.Sprintf("Channel %q gave up after all retries. Last error: %s.%s", ch, msg, errorTip(msg)),
		})
	}

	if pending > 0 {
		v := float64(pending)
		hints = append(hints, DiagnosticHint{
			Key:    "delivery_in_flight",
			Level:  "info",
			Title:  "Delivery in progress",
			Detail: fmt.Sprintf("%d notification(s) are still being sent or retried.", pending),
			Value:  &v,
		})
	}

	if retried > 0 {
		v := float64(retried)
		hints = append(hints, DiagnosticHint{
			Key:    "delivery_retried",
			Level:  "warning",
			Title:  "Delivered after retries",
			Detail: fmt.Sprintf("%d notification(s) needed more than one try. The provider was slow or rate limiting.", retried),
			Value:  &v,
		})
	}

	if len(attempts) == 0 && a.State != types.StateResolved {
		hints = append(hints, DiagnosticHint{
			Key:   "not_notified",
			Level: "warning",
			Title: "Nobody notified",
			Detail: "No notification has been attempted for this alert. Either the rule has no channels " +
				"and no escalation policy, or a suppression window silenced the tiers that fired.",
		})
	}

	// ── Response ─────────────────────────────────────────────────────────────
	switch a.State {
	case types.StateOpen:
		if age := now.Sub(a.TriggeredAt); age >= unackedAfter {
			v := age.Minutes()
			hints = append(hints, DiagnosticHint{
				Key:    "unacknowledged",
				Level:  "warning",
				Title:  fmt.Sprintf("Unacknowledged %s", age.Round(time.Minute)),
				Detail: "The alert has been open without acknowledgement. Escalation continues until someone acknowledges it or the policy runs out of levels.",
				Value:  &v,
			})
		}
		if a.EscalationLevel > 1 {
			v := float64(a.EscalationLevel)
			hints = append(hints, DiagnosticHint{
				Key:    "escalated",
				Level:  "info",
				Title:  fmt.Sprintf("Escalated to level %d", a.EscalationLevel),
				Detail: "Earlier tiers did not acknowledge in time, so later escalation levels were notified.",
				Value:  &v,
			})
		}
	case types.StateAcknowledged:
		if a.AcknowledgedAt != nil {
			v := a.AcknowledgedAt.Sub(a.TriggeredAt).Minutes()
			hints = append(hints, DiagnosticHint{
				Key:    "acknowledged",
				Level:  "ok",
				Title:  "Acknowledged",
				Detail: fmt.Sprintf("%s acknowledged after %.0f minutes. Escalation is stopped.", a.AcknowledgedBy, v),
				Value:  &v,
			})
		}
	case types.StateResolved:
		if a.ResolvedAt != nil {
			v := a.ResolvedAt.Sub(a.TriggeredAt).Minutes()
			hints = append(hints, DiagnosticHint{
				Key:    "resolved",
				Level:  "ok",
				Title:  "Resolved",
				Detail: fmt.Sprintf("%s resolved the alert after %.0f minutes.", a.ResolvedBy, v),
				Value:  &v,
			})
		}
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "notified",
			Level:  "ok",
			Title:  "Notified",
			Detail: fmt.Sprintf("All %d notification(s) were delivered on the first try.", len(attempts)),
		})
	}

	sort.SliceStable(hints, func(i, j int) bool { return levelRank[hints[i].Level] < levelRank[hints[j].Level] })
	return hints
}

// errorTip adds provider-specific guidance for common failures.
func errorTip(msg string) string {
	switch {
	case strings.Contains(msg, "HTTP 401"), strings.Contains(msg, "HTTP 403"):
		return " The provider rejected the credentials; check the channel's url_env or token."
	case strings.Contains(msg, "HTTP 404"):
		return " The endpoint does not exist; the webhook may have been deleted."
	case strings.Contains(msg, "HTTP 429"):
		return " The provider is rate limiting; lower the volume or set rate_per_minute on the channel."
	case strings.Contains(msg, "circuit breaker"):
		return " The channel's circuit breaker is open after repeated failures and will retry later."
	default:
		return ""
	}
}
