package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type ServiceState string

const (
	ServiceStopped ServiceState = "stopped"
	ServiceRunning ServiceState = "running"
)

func StateOf(running bool) ServiceState {
	if running {
		return ServiceRunning
	}
	return ServiceStopped
}

// ChannelBinding links an externally issued channel identity (for example a
// Telegram bot ID) to display metadata. The token never leaves the process
// through JSON.
type ChannelBinding struct {
	ChannelBotID int64  `json:"bot_id"`
	BotName      string `json:"bot_name"`
	Token        string `json:"-"`
	WebhookURL   string `json:"webhook_url,omitempty"`
	IsActive     bool   `json:"is_active"`
	TotalQueries int64  `json:"total_queries"`
}

// UnmarshalJSON accepts either a full binding object or the bare channel bot
// id some backend versions return from the listing endpoint.
func (b *ChannelBinding) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		var id int64
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("channel binding: %w", err)
		}
		*b = ChannelBinding{ChannelBotID: id, BotName: fmt.Sprintf("bot %d", id), IsActive: true}
		return nil
	}
	type plain ChannelBinding
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = ChannelBinding(p)
	return nil
}

type BindingInput struct {
	ChannelBotID int64
	BotName      string
	Token        string
	WebhookURL   string
}

// ChannelStats is the service-wide counter set reported by the backend.
type ChannelStats struct {
	ActiveBots   int     `json:"active_bots"`
	TotalQueries int64   `json:"total_queries"`
	ActiveUsers  int     `json:"active_users"`
	Bots         []int64 `json:"bots"`
}

type ServiceStatus struct {
	IsRunning    bool  `json:"is_running"`
	ActiveBots   int   `json:"active_bots"`
	TotalQueries int64 `json:"total_queries"`
	ActiveUsers  int   `json:"active_users"`
}
