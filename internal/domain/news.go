package domain

import "time"

// NewsCandidate is a raw news item as fetched from a source.
type NewsCandidate struct {
	ID          string
	Headline    string
	URL         string
	Source      string
	PublishedAt time.Time
	RawExcerpt  string
}

// Assessment is what the summarization collaborator returns for one candidate.
type Assessment struct {
	Score   float64
	Summary string
}

// ScoredNewsItem is a candidate enriched with relevance data for a single run.
type ScoredNewsItem struct {
	NewsCandidate
	RelevanceScore float64
	Summary        string
	Included       bool
}

// TopicProfile is the static description of what counts as relevant.
type TopicProfile struct {
	Name     string
	Keywords []string
	Themes   []string
}
