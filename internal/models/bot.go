package models

import (
	"fmt"
	"strings"
	"sync"
)

type Status string

const (
	StatusTraining Status = "training"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// transitions lists every permitted status edge. error is left only by a retrain.
var transitions = map[Status][]Status{
	StatusTraining: {StatusActive, StatusError},
	StatusActive:   {StatusInactive, StatusTraining},
	StatusInactive: {StatusActive},
	StatusError:    {StatusTraining},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a bot in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Retrainable reports whether a retrain request is meaningful in this status.
func (s Status) Retrainable() bool {
	return s == StatusActive || s == StatusError
}

func (s *Status) UnmarshalText(text []byte) error {
	v := Status(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("unknown bot status %q", string(text))
	}
	*s = v
	return nil
}

type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
)

type Language string

const (
	LanguageEnglish  Language = "en"
	LanguageRussian  Language = "ru"
	LanguageEstonian Language = "et"
)

var (
	enumMu    sync.RWMutex
	channels  = map[Channel]bool{ChannelWeb: true, ChannelTelegram: true, ChannelWhatsApp: true}
	languages = map[Language]bool{LanguageEnglish: true, LanguageRussian: true, LanguageEstonian: true}
)

// RegisterChannel extends the closed channel set. Call it during start-up,
// before any bot is validated.
func RegisterChannel(c Channel) {
	enumMu.Lock()
	defer enumMu.Unlock()
	channels[Channel(strings.ToLower(string(c)))] = true
}

// RegisterLanguage extends the closed language set.
func RegisterLanguage(l Language) {
	enumMu.Lock()
	defer enumMu.Unlock()
	languages[Language(strings.ToLower(string(l)))] = true
}

func (c Channel) Valid() bool {
	enumMu.RLock()
	defer enumMu.RUnlock()
	return channels[c]
}

func (l Language) Valid() bool {
	enumMu.RLock()
	defer enumMu.RUnlock()
	return languages[l]
}

// Bot is one tenant-owned FAQ agent as last reported by the backend.
type Bot struct {
	ID            int        `json:"id"`
	Name          string     `json:"name"`
	SourceURL     string     `json:"website_url"`
	Description   string     `json:"description,omitempty"`
	Status        Status     `json:"status"`
	Channels      []Channel  `json:"channels"`
	Language      Language   `json:"language"`
	CreatedAt     Timestamp  `json:"created_at"`
	LastTrainedAt *Timestamp `json:"last_trained,omitempty"`
	TotalQueries  int64      `json:"total_queries"`
	AccuracyScore *float64   `json:"accuracy_score,omitempty"`
}

func (b Bot) HasChannel(c Channel) bool {
	for _, have := range b.Channels {
		if have == c {
			return true
		}
	}
	return false
}

// Normalize enforces the display invariants on a backend-supplied bot:
// a non-negative query counter and an accuracy score inside [0,1].
func (b *Bot) Normalize() {
	if b.TotalQueries < 0 {
		b.TotalQueries = 0
	}
	if b.AccuracyScore != nil {
		v := ClampUnit(*b.AccuracyScore)
		b.AccuracyScore = &v
	}
	if b.Channels == nil {
		b.Channels = []Channel{}
	}
}

// CreateBotInput is the body of a bot creation request.
type CreateBotInput struct {
	Name        string    `json:"name"`
	SourceURL   string    `json:"website_url"`
	Description string    `json:"description,omitempty"`
	Channels    []Channel `json:"channels"`
	Language    Language  `json:"language"`
}

// BotUpdate carries the partial fields of a bot update. Nil fields are left unchanged.
type BotUpdate struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Channels    []Channel `json:"channels,omitempty"`
	Language    *Language `json:"language,omitempty"`
	Status      *Status   `json:"status,omitempty"`
}

func (u BotUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Channels == nil && u.Language == nil && u.Status == nil
}

// ClampUnit limits v to the closed interval [0,1].
func ClampUnit(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
