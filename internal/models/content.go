package models

import "time"

type Source string

const (
	SourceScraped Source = "scraped_content"
	SourceManual  Source = "manual"
)

// ManualConfidence is the confidence assigned to every hand-written pair.
const ManualConfidence = 1.0

// QAPair is one question/answer unit in a bot's knowledge base.
type QAPair struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
}

// Match is a search hit together with its position in the bot's full list,
// so callers can remove what they found.
type Match struct {
	Position int    `json:"position"`
	Pair     QAPair `json:"pair"`
}

type QueryResult struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	SourceURL  string  `json:"source_url,omitempty"`
}

func (r QueryResult) Band() ConfidenceBand {
	return BandFor(r.Confidence)
}

// HistoryEntry is a QueryResult annotated with local issuance time.
type HistoryEntry struct {
	ID       string        `json:"id"`
	BotID    int           `json:"bot_id"`
	Result   QueryResult   `json:"result"`
	AskedAt  time.Time     `json:"asked_at"`
	Latency  time.Duration `json:"latency"`
	Sequence int           `json:"sequence"`
}

type ConfidenceBand string

const (
	BandSuccess ConfidenceBand = "success"
	BandWarning ConfidenceBand = "warning"
	BandError   ConfidenceBand = "error"
)

const (
	successThreshold = 0.8
	warningThreshold = 0.6
)

// BandFor classifies a confidence or accuracy value: >=0.8 success,
// >=0.6 warning, anything lower error.
func BandFor(c float64) ConfidenceBand {
	switch {
	case c >= successThreshold:
		return BandSuccess
	case c >= warningThreshold:
		return BandWarning
	default:
		return BandError
	}
}
