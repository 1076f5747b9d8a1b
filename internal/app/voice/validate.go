package voice

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

// Validation runs before a request reaches its channel, so a rejected
// request never touches session state.

func validateAnswer(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: empty", domain.ErrInvalidSDP)
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidSDP, err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: no media sections", domain.ErrInvalidSDP)
	}
	return nil
}

// validateCandidate accepts the empty end-of-candidates marker.
func validateCandidate(c core.ICECandidate) error {
	if c.Candidate == "" {
		return nil
	}
	if !strings.HasPrefix(c.Candidate, "candidate:") {
		return fmt.Errorf("%w: missing candidate prefix", domain.ErrInvalidICECandidate)
	}
	if c.SDPMid == nil && c.SDPMLineIndex == nil {
		return fmt.Errorf("%w: sdpMid or sdpMLineIndex required", domain.ErrInvalidICECandidate)
	}
	return nil
}

func validatePatch(p domain.VoiceStatePatch) error {
	if p.Empty() {
		return fmt.Errorf("%w: empty voice state update", domain.ErrValidation)
	}
	for _, s := range []*domain.SSRC{p.CameraSSRC, p.ScreenVideoSSRC, p.ScreenAudioSSRC} {
		if s != nil && *s == 0 {
			return fmt.Errorf("%w: ssrc must be non-zero", domain.ErrValidation)
		}
	}
	return nil
}
