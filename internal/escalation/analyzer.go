package escalation

import (
	"log"
	"math"
	"regexp"
	"strings"

	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

// Escalation reasons produced by the analyzer
const (
	ReasonNone          = "no-escalation-needed"
	ReasonTechnical     = "technical-problem"
	ReasonBilling       = "account-billing"
	ReasonUrgent        = "urgent-request"
	ReasonFrustration   = "customer-frustration"
	ReasonRepetitive    = "repetitive-questions"
	ReasonLowConfidence = "low-ai-confidence"
	ReasonLongChat      = "long-conversation"
	ReasonUserRequested = "user-requested"
	ReasonFailed        = "analysis-failed"
)

// Keyword pattern sets per signal category
// FUNCTIONAL DISCOVERY: Each list entry counts at most once regardless of how
// often it appears, so match counts measure breadth of evidence, not volume
var (
	technicalPatterns = compilePatterns(
		`not working|broken`,
		`error|bug|issue`,
		`slow|performance`,
		`can't access|cannot access`,
		`can't login|cannot login`,
		`can't register|cannot register`,
	)
	accountPatterns = compilePatterns(
		`account`,
		`billing|payment`,
		`subscription`,
		`cancel`,
		`upgrade|downgrade`,
		`money|fee|charge`,
	)
	urgentPatterns = compilePatterns(
		`urgent|emergency`,
		`immediately|asap`,
		`critical`,
		`important`,
	)
	frustrationPatterns = compilePatterns(
		`angry|frustrated`,
		`terrible|awful`,
		`useless|doesn't work`,
		`not satisfied|unhappy`,
	)
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(`(?i)` + p)
	}
	return compiled
}

func countMatches(patterns []*regexp.Regexp, content string) int {
	matches := 0
	for _, p := range patterns {
		if p.MatchString(content) {
			matches++
		}
	}
	return matches
}

// Analyzer inspects recent conversation messages for escalation signals
// ARCHITECTURAL DISCOVERY: Pure heuristics over message content - no stored
// state, so the same window always yields the same verdict
type Analyzer struct{}

var _ interfaces.Classifier = (*Analyzer)(nil)

// NewAnalyzer creates an analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze evaluates a message window and returns an escalation verdict.
// Internal failures never propagate; they degrade to a non-escalating
// low-confidence verdict so message flow is never interrupted.
func (a *Analyzer) Analyze(messages []*types.Message) (analysis types.EscalationAnalysis) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Escalation analysis failed: %v", r)
			analysis = types.EscalationAnalysis{
				ShouldEscalate: false,
				Reason:         ReasonFailed,
				Priority:       types.PriorityMedium,
				Confidence:     0.1,
			}
		}
	}()

	analysis = types.EscalationAnalysis{
		ShouldEscalate: false,
		Reason:         ReasonNone,
		Priority:       types.PriorityMedium,
		Confidence:     0.5,
	}

	if len(messages) == 0 {
		return analysis
	}

	var userMessages, aiMessages []*types.Message
	for _, message := range messages {
		switch message.SenderType {
		case types.SenderTypeUser:
			userMessages = append(userMessages, message)
		case types.SenderTypeAI:
			aiMessages = append(aiMessages, message)
		}
	}

	var contentParts []string
	for _, message := range userMessages {
		contentParts = append(contentParts, strings.ToLower(message.Content))
	}
	allUserContent := strings.Join(contentParts, " ")

	// FUNCTIONAL DISCOVERY: Rules run in fixed order and later rules
	// overwrite reason/priority/category while confidence only accumulates
	// - the last matching signal names the escalation

	if matches := countMatches(technicalPatterns, allUserContent); matches >= 2 {
		analysis.ShouldEscalate = true
		analysis.Reason = ReasonTechnical
		analysis.Priority = types.PriorityHigh
		analysis.Category = "technical"
		analysis.Confidence = math.Min(0.9, 0.6+float64(matches)*0.1)
	}

	if matches := countMatches(accountPatterns, allUserContent); matches >= 2 {
		analysis.ShouldEscalate = true
		analysis.Reason = ReasonBilling
		analysis.Priority = types.PriorityHigh
		analysis.Category = "billing"
		analysis.Confidence = math.Min(0.9, 0.7+float64(matches)*0.1)
	}

	if matches := countMatches(urgentPatterns, allUserContent); matches >= 1 {
		analysis.ShouldEscalate = true
		analysis.Reason = ReasonUrgent
		analysis.Priority = types.PriorityUrgent
		analysis.Confidence = math.Min(0.95, analysis.Confidence+0.2)
	}

	if matches := countMatches(frustrationPatterns, allUserContent); matches >= 1 {
		analysis.ShouldEscalate = true
		analysis.Reason = ReasonFrustration
		analysis.Priority = types.PriorityHigh
		analysis.Confidence = math.Min(0.8, analysis.Confidence+0.15)
	}

	// Repetitive questions: low ratio of unique normalized user messages
	if len(userMessages) >= 3 {
		unique := make(map[string]bool)
		for _, message := range userMessages {
			unique[normalizeContent(message.Content)] = true
		}
		if float64(len(unique)) < float64(len(userMessages))*0.7 {
			analysis.ShouldEscalate = true
			analysis.Reason = ReasonRepetitive
			analysis.Priority = types.PriorityMedium
			analysis.Confidence = math.Min(0.7, analysis.Confidence+0.1)
		}
	}

	// Repeated low-confidence AI answers
	lowConfidence := 0
	for _, message := range aiMessages {
		if message.Metadata != nil && message.Metadata.Confidence != nil && *message.Metadata.Confidence < 0.5 {
			lowConfidence++
		}
	}
	if lowConfidence >= 2 {
		analysis.ShouldEscalate = true
		analysis.Reason = ReasonLowConfidence
		analysis.Priority = types.PriorityMedium
		analysis.Confidence = math.Min(0.6, analysis.Confidence+0.1)
	}

	// Long conversation without any other signal
	if len(messages) >= 10 && !analysis.ShouldEscalate {
		analysis.ShouldEscalate = true
		analysis.Reason = ReasonLongChat
		analysis.Priority = types.PriorityLow
		analysis.Confidence = 0.4
	}

	return analysis
}

var nonWordPattern = regexp.MustCompile(`[^\w\s]`)

// normalizeContent lowercases, strips punctuation and trims for comparison.
func normalizeContent(content string) string {
	return strings.TrimSpace(nonWordPattern.ReplaceAllString(strings.ToLower(content), ""))
}

// Classify implements interfaces.Classifier over a single text, reporting
// each matched signal category with the fraction of patterns hit.
func (a *Analyzer) Classify(text string) []interfaces.ScoredTag {
	lowered := strings.ToLower(text)

	var tags []interfaces.ScoredTag
	categories := []struct {
		tag      string
		patterns []*regexp.Regexp
	}{
		{"technical", technicalPatterns},
		{"billing", accountPatterns},
		{"urgent", urgentPatterns},
		{"frustration", frustrationPatterns},
	}

	for _, category := range categories {
		if matches := countMatches(category.patterns, lowered); matches > 0 {
			tags = append(tags, interfaces.ScoredTag{
				Tag:   category.tag,
				Score: float64(matches) / float64(len(category.patterns)),
			})
		}
	}

	return tags
}

// EscalationMessage renders the customer-facing system message for an
// escalation reason and priority.
func EscalationMessage(reason, priority string) string {
	messages := map[string]string{
		ReasonTechnical:     "Your conversation has been routed to our support team for a technical issue. A technical specialist will assist you.",
		ReasonBilling:       "Your conversation has been routed to our support team for an account or billing matter. Our specialists will assist you.",
		ReasonUrgent:        "Your conversation has been routed to our support team with priority handling.",
		ReasonFrustration:   "Your conversation has been routed to our support team so we can serve you better.",
		ReasonRepetitive:    "Your conversation has been routed to our support team for a more detailed answer.",
		ReasonLowConfidence: "Your conversation has been routed to our support team so we can help you better.",
		ReasonLongChat:      "Your conversation has been routed to our support team due to its length.",
		ReasonUserRequested: "Your conversation has been routed to our support team at your request.",
	}

	base, ok := messages[reason]
	if !ok {
		base = messages[ReasonUserRequested]
	}

	switch priority {
	case types.PriorityUrgent:
		return "🚨 " + base + " It will be handled with urgent priority."
	case types.PriorityHigh:
		return "⚡ " + base + " It will be handled with high priority."
	default:
		return base
	}
}
