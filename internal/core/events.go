package core

import "github.com/dkeye/voicechan/internal/domain"

type EventName string

const (
	EventOffer                   EventName = "offer"
	EventICECandidate            EventName = "iceCandidate"
	EventParticipantJoined       EventName = "participantJoined"
	EventParticipantLeft         EventName = "participantLeft"
	EventVoiceStateChanged       EventName = "voiceStateChanged"
	EventSpeakingStateChanged    EventName = "speakingStateChanged"
	EventSsrcMapping             EventName = "ssrcMapping"
	EventSsrcMappingBatch        EventName = "ssrcMappingBatch"
	EventVideoStreamStarted      EventName = "videoStreamStarted"
	EventVideoStreamStopped      EventName = "videoStreamStopped"
	EventServerVoiceStateChanged EventName = "serverVoiceStateChanged"
	EventUserMoved               EventName = "userMoved"
)

// Event is an immutable outbound message. Payload values are never shared with channel state.
type Event struct {
	Name    EventName        `json:"type"`
	Channel domain.ChannelID `json:"channelId,omitempty"`
	Payload any              `json:"payload,omitempty"`
}

type OfferPayload struct {
	SDP string `json:"sdp"`
}

type ParticipantPayload struct {
	Participant domain.Participant `json:"participant"`
}

type ParticipantLeftPayload struct {
	UserID domain.UserID `json:"userId"`
}

type VoiceStatePayload struct {
	UserID            domain.UserID     `json:"userId"`
	State             domain.VoiceState `json:"voiceState"`
	EffectiveMuted    bool              `json:"effectiveMuted"`
	EffectiveDeafened bool              `json:"effectiveDeafened"`
}

type SpeakingPayload struct {
	UserID   domain.UserID `json:"userId"`
	Speaking bool          `json:"isSpeaking"`
}

type SsrcBatchPayload struct {
	Mappings []domain.SsrcMapping `json:"mappings"`
}

type VideoStreamPayload struct {
	UserID domain.UserID     `json:"userId"`
	Kind   domain.StreamKind `json:"streamKind"`
}

type UserMovedPayload struct {
	UserID   domain.UserID    `json:"userId"`
	From     domain.ChannelID `json:"fromChannelId"`
	To       domain.ChannelID `json:"toChannelId"`
	Snapshot domain.Snapshot  `json:"snapshot"`
}

func NewVoiceStatePayload(user domain.UserID, st domain.VoiceState) VoiceStatePayload {
	return VoiceStatePayload{
		UserID:            user,
		State:             st,
		EffectiveMuted:    st.EffectiveMuted(),
		EffectiveDeafened: st.EffectiveDeafened(),
	}
}
