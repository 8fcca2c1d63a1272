package tts

import "strings"

// Family is a TTS architecture. Each family needs different components.
type Family string

const (
	// FamilyMMS covers VITS based models such as facebook/mms-tts-*.
	FamilyMMS Family = "mms"
	// FamilySpeechT5 covers microsoft/speecht5_tts and fine-tunes.
	FamilySpeechT5 Family = "speecht5"
)

// DetectFamily maps a model identifier to its family. Matching is
// case-insensitive and unknown identifiers fall back to FamilyMMS.
func DetectFamily(modelID string) Family {
	lowered := strings.ToLower(modelID)

	switch {
	case strings.Contains(lowered, "mms-tts"), strings.Contains(lowered, "vits"):
		return FamilyMMS
	case strings.Contains(lowered, "speecht5"):
		return FamilySpeechT5
	default:
		return FamilyMMS
	}
}

// Known reports whether the family has a loader.
func (f Family) Known() bool {
	return f == FamilyMMS || f == FamilySpeechT5
}
