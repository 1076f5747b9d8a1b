package domain

import (
	"fmt"
	"time"
)

type ChannelID string

func (id ChannelID) Validate() error {
	if len(id) == 0 {
		return fmt.Errorf("%w: empty channel id", ErrValidation)
	}
	if len(id) > MaxChannelIDLen {
		return fmt.Errorf("%w: channel id too long", ErrValidation)
	}
	return nil
}

// Participant is a read-only view of a channel member for events and APIs.
type Participant struct {
	UserID   UserID     `json:"userId"`
	JoinedAt time.Time  `json:"joinedAt"`
	State    VoiceState `json:"voiceState"`
}

// Snapshot is what a joining client needs to render the channel.
type Snapshot struct {
	ChannelID    ChannelID     `json:"channelId"`
	Participants []Participant `json:"participants"`
	SsrcMappings []SsrcMapping `json:"ssrcMappings"`
}

// ChannelInfo is the admin listing view.
type ChannelInfo struct {
	ChannelID     ChannelID      `json:"channelId"`
	CreatedAt     time.Time      `json:"createdAt"`
	Participants  []Participant  `json:"participants"`
	SsrcMappings  []SsrcMapping  `json:"ssrcMappings"`
	Subscriptions []Subscription `json:"subscriptions"`
}
