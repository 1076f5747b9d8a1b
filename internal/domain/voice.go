package domain

// VoiceState holds self-reported and server-applied flags separately.
// Server flags are only changed by admin actions.
type VoiceState struct {
	Muted          bool `json:"muted"`
	Deafened       bool `json:"deafened"`
	ServerMuted    bool `json:"serverMuted"`
	ServerDeafened bool `json:"serverDeafened"`
	Speaking       bool `json:"speaking"`
	CameraOn       bool `json:"cameraOn"`
	ScreenSharing  bool `json:"screenSharing"`
}

func (s VoiceState) EffectiveMuted() bool    { return s.Muted || s.ServerMuted }
func (s VoiceState) EffectiveDeafened() bool { return s.Deafened || s.ServerDeafened }

// VoiceStatePatch carries a client's partial self-state update.
// SSRC fields announce the stream that accompanies a toggle.
type VoiceStatePatch struct {
	Muted           *bool `json:"muted,omitempty"`
	Deafened        *bool `json:"deafened,omitempty"`
	CameraOn        *bool `json:"cameraOn,omitempty"`
	ScreenSharing   *bool `json:"screenSharing,omitempty"`
	CameraSSRC      *SSRC `json:"cameraSsrc,omitempty"`
	ScreenVideoSSRC *SSRC `json:"screenVideoSsrc,omitempty"`
	ScreenAudioSSRC *SSRC `json:"screenAudioSsrc,omitempty"`
}

func (p VoiceStatePatch) Empty() bool {
	return p.Muted == nil && p.Deafened == nil && p.CameraOn == nil && p.ScreenSharing == nil &&
		p.CameraSSRC == nil && p.ScreenVideoSSRC == nil && p.ScreenAudioSSRC == nil
}

// ServerStatePatch is an admin override.
type ServerStatePatch struct {
	ServerMuted    *bool `json:"serverMuted,omitempty"`
	ServerDeafened *bool `json:"serverDeafened,omitempty"`
}

func (p ServerStatePatch) Empty() bool { return p.ServerMuted == nil && p.ServerDeafened == nil }
