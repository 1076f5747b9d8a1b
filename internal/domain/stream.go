package domain

import "fmt"

type StreamKind string

const (
	StreamMic         StreamKind = "mic"
	StreamCameraVideo StreamKind = "cameraVideo"
	StreamScreenVideo StreamKind = "screenVideo"
	StreamScreenAudio StreamKind = "screenAudio"
)

var StreamKinds = []StreamKind{StreamMic, StreamCameraVideo, StreamScreenVideo, StreamScreenAudio}

func (k StreamKind) Validate() error {
	switch k {
	case StreamMic, StreamCameraVideo, StreamScreenVideo, StreamScreenAudio:
		return nil
	}
	return fmt.Errorf("%w: unknown stream kind %q", ErrValidation, string(k))
}

// IsScreen reports whether the stream is forwarded only to subscribed watchers.
func (k StreamKind) IsScreen() bool {
	return k == StreamScreenVideo || k == StreamScreenAudio
}

func (k StreamKind) IsVideo() bool {
	return k == StreamCameraVideo || k == StreamScreenVideo
}

type SSRC uint32

type SsrcMapping struct {
	SSRC       SSRC       `json:"ssrc"`
	UserID     UserID     `json:"userId"`
	StreamKind StreamKind `json:"streamKind"`
}

// SsrcDelta is one observable transition of a channel's SSRC table.
type SsrcDelta struct {
	Added   []SsrcMapping `json:"added,omitempty"`
	Removed []SsrcMapping `json:"removed,omitempty"`
}

func (d SsrcDelta) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

type Subscription struct {
	WatcherID  UserID    `json:"watcherUserId"`
	StreamerID UserID    `json:"streamerUserId"`
	ChannelID  ChannelID `json:"channelId"`
}
