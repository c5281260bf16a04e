package llm

import (
	"regexp"
	"strings"
)

var (
	amountRegex    = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	forNameRegex   = regexp.MustCompile(`(?:to|from|for|with|owe)\s+([A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*)*)`)
	lentRegex      = regexp.MustCompile(`(?i)\b(lent|loaned|covered|paid for|fronted)\b`)
	borrowedRegex  = regexp.MustCompile(`(?i)\b(borrowed|owe|paid me back|covered me|paid for me)\b`)
	paybackRegex   = regexp.MustCompile(`(?i)\b(paid me|paid back|payback|returned|gave me back)\b`)
	settleRegex    = regexp.MustCompile(`(?i)\b(settle|square up|clear)\b`)
	recurringRegex = regexp.MustCompile(`(?i)\b(every|monthly|weekly|daily|yearly|subscription|recurring)\b`)
)

// parseWithRegex is the fallback when the language model is unavailable. It
// handles only plainly phrased messages and reports low confidence.
func parseWithRegex(message string) *Intent {
	lower := strings.ToLower(message)

	intent := &Intent{Kind: "unknown", Confidence: 0.2}
	intent.Counterparty = parseName(message)
	intent.Amount = parseAmount(lower)

	switch {
	case isDashboardQuery(lower):
		intent.Kind = "show_dashboard"
	case strings.Contains(lower, "pending") && strings.Contains(lower, "bill"),
		strings.Contains(lower, "upcoming"):
		intent.Kind = "list_occurrences"
	case strings.Contains(lower, "who owes"), strings.Contains(lower, "outstanding"):
		intent.Kind = "list_dues"
	case recurringRegex.MatchString(lower):
		intent.Kind = "create_recurring_rule"
		intent.RuleName = strings.TrimSpace(message)
		intent.Recurrence = parseRecurrence(lower)
	case paybackRegex.MatchString(lower):
		intent.Kind = "receive_payment"
	case settleRegex.MatchString(lower):
		intent.Kind = "settle_up"
	case lentRegex.MatchString(lower):
		intent.Kind = "record_lent"
		intent.Description = strings.TrimSpace(message)
	case borrowedRegex.MatchString(lower):
		intent.Kind = "record_borrowed"
		intent.Description = strings.TrimSpace(message)
	}

	if intent.Kind == "record_lent" || intent.Kind == "record_borrowed" {
		if intent.Amount == "" || intent.Counterparty == "" {
			return &Intent{Kind: "unknown"}
		}
	}
	return intent
}

func parseAmount(text string) string {
	matches := amountRegex.FindAllString(text, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.ReplaceAll(matches[len(matches)-1], ",", ".")
}

func parseName(text string) string {
	if matches := forNameRegex.FindStringSubmatch(text); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return ""
}

func parseRecurrence(text string) string {
	switch {
	case strings.Contains(text, "daily"), strings.Contains(text, "every day"):
		return "daily"
	case strings.Contains(text, "weekly"), strings.Contains(text, "every week"):
		return "weekly"
	case strings.Contains(text, "yearly"), strings.Contains(text, "every year"), strings.Contains(text, "annual"):
		return "yearly"
	default:
		return "monthly"
	}
}

func isDashboardQuery(text string) bool {
	return strings.Contains(text, "summary") ||
		strings.Contains(text, "dashboard") ||
		strings.Contains(text, "overview") ||
		strings.Contains(text, "how much do i owe")
}

func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}
