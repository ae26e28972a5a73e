package domain

import "time"

// Report is the composed digest for a single run.
type Report struct {
	GeneratedAt time.Time
	Cadence     Cadence
	NewsItems   []ScoredNewsItem
	Comparisons []TrendComparison
	Narrative   string
	// ChartRefs maps a chart id ("{dimension}_{window_start}") to PNG bytes.
	ChartRefs map[string][]byte
}

// InboundMessage is a reply received in the digest mailbox.
type InboundMessage struct {
	Sender     string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Email is the fully rendered outgoing message.
type Email struct {
	Recipients   []string
	Subject      string
	HTMLBody     string
	InlineImages map[string][]byte
}
