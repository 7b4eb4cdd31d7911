package models

import (
	"bytes"
	"encoding/json"
)

// AnalyticsOverview is the tenant-wide rollup, passed through unmodified.
type AnalyticsOverview struct {
	TotalBots       int     `json:"total_bots"`
	TotalQueries    int64   `json:"total_queries"`
	ActiveUsers     int     `json:"active_users"`
	AccuracyAvg     float64 `json:"accuracy_avg"`
	ResponseTimeAvg float64 `json:"response_time_avg"`
}

type TopQuestion struct {
	Question string   `json:"question"`
	Count    int64    `json:"count"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// UnmarshalJSON also accepts a bare question string.
func (q *TopQuestion) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*q = TopQuestion{Question: text}
		return nil
	}
	type plain TopQuestion
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*q = TopQuestion(p)
	return nil
}

type ResponseTimes struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

type BotAnalytics struct {
	BotID          int           `json:"bot_id"`
	TotalQueries   int64         `json:"total_queries"`
	AccuracyScore  *float64      `json:"accuracy_score,omitempty"`
	Status         Status        `json:"status,omitempty"`
	LastTrained    *Timestamp    `json:"last_trained,omitempty"`
	DailyQueries   int64         `json:"daily_queries"`
	WeeklyQueries  int64         `json:"weekly_queries"`
	MonthlyQueries int64         `json:"monthly_queries"`
	TopQuestions   []TopQuestion `json:"top_questions"`
	ResponseTimes  ResponseTimes `json:"response_times"`
}

// Normalize makes the zero-query case explicit and keeps every accuracy
// value inside [0,1].
func (a *BotAnalytics) Normalize() {
	if a.TopQuestions == nil {
		a.TopQuestions = []TopQuestion{}
	}
	if a.AccuracyScore != nil {
		v := ClampUnit(*a.AccuracyScore)
		a.AccuracyScore = &v
	}
	for i := range a.TopQuestions {
		if acc := a.TopQuestions[i].Accuracy; acc != nil {
			v := ClampUnit(*acc)
			a.TopQuestions[i].Accuracy = &v
		}
	}
}

type QueryTrend struct {
	Date     string  `json:"date"`
	Queries  int64   `json:"queries"`
	Accuracy float64 `json:"accuracy"`
}

type ChannelUsage struct {
	Channel    Channel `json:"channel"`
	Queries    int64   `json:"queries"`
	Percentage float64 `json:"percentage"`
}

type Performance struct {
	ResponseTimes      map[string]float64 `json:"response_times"`
	AccuracyByLanguage map[string]float64 `json:"accuracy_by_language"`
	Uptime             map[string]float64 `json:"uptime"`
	UserSatisfaction   map[string]float64 `json:"user_satisfaction"`
}

// TrendSummary is derived locally from a QueryTrend series.
type TrendSummary struct {
	Days         int     `json:"days"`
	TotalQueries int64   `json:"total_queries"`
	MeanDaily    float64 `json:"mean_daily"`
	MedianDaily  float64 `json:"median_daily"`
	P95Daily     float64 `json:"p95_daily"`
	MeanAccuracy float64 `json:"mean_accuracy"`
}
