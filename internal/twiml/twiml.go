// Package twiml renders the voice markup returned to the telephony provider.
//
// Every document ends by opening a speech-collection window that posts back
// to the continue handler, so the call stays up until the caller hangs up.
package twiml

import (
	"fmt"
	"net/url"

	tw "github.com/twilio/twilio-go/twiml"
)

// ProcessPath is the continue handler that gathered speech is posted to.
const ProcessPath = "/api/voice/process"

// Builder renders markup documents with a fixed built-in speech voice.
type Builder struct {
	Voice string
}

// NewBuilder returns a Builder using voice for built-in speech.
func NewBuilder(voice string) *Builder {
	return &Builder{Voice: voice}
}

// Say speaks text with the provider's built-in speech, then gathers.
func (b *Builder) Say(callSID, text string) (string, error) {
	return b.render(callSID, &tw.VoiceSay{Message: text, Voice: b.Voice})
}

// Play plays the audio at audioURL, then gathers.
func (b *Builder) Play(callSID, audioURL string) (string, error) {
	return b.render(callSID, &tw.VoicePlay{Url: audioURL})
}

// Gather only re-opens the speech-collection window.
func (b *Builder) Gather(callSID string) (string, error) {
	return b.render(callSID, nil)
}

func (b *Builder) render(callSID string, lead tw.Element) (string, error) {
	verbs := make([]tw.Element, 0, 2)
	if lead != nil {
		verbs = append(verbs, lead)
	}
	verbs = append(verbs, gather(callSID))

	doc, err := tw.Voice(verbs)
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return doc, nil
}

func gather(callSID string) *tw.VoiceGather {
	return &tw.VoiceGather{
		Input:         "speech",
		Action:        ProcessPath + "?call_sid=" + url.QueryEscape(callSID),
		Method:        "POST",
		SpeechTimeout: "auto",
	}
}
