// Package events records relay activity as an append-only NDJSON journal and
// streams it to live subscribers.
package events

import "time"

// Event types.
const (
	TypeServerStart      = "server_start"
	TypeCallIncoming     = "call_incoming"
	TypeSpeechProcessing = "speech_processing"
	TypeSTT              = "stt"
	TypeLLM              = "llm"
	TypeTTS              = "tts"
	TypeChat             = "chat"
	TypeTwilioConfig     = "twilio_config"
)

// Event is one journal entry.
type Event struct {
	Seq             uint64         `json:"seq"`
	Timestamp       time.Time      `json:"timestamp"`
	Date            string         `json:"date"`
	Time            string         `json:"time"`
	EventType       string         `json:"event_type"`
	CallSID         string         `json:"call_sid,omitempty"`
	Step            string         `json:"step"`
	Data            map[string]any `json:"data,omitempty"`
	DurationSeconds *float64       `json:"duration_seconds,omitempty"`
}

// New builds an event. Timestamps are filled in when it is logged.
func New(eventType, callSID, step string, data map[string]any) Event {
	return Event{EventType: eventType, CallSID: callSID, Step: step, Data: data}
}

// WithDuration attaches an elapsed time rounded to milliseconds.
func (e Event) WithDuration(d time.Duration) Event {
	secs := float64(d.Milliseconds()) / 1000
	e.DurationSeconds = &secs
	return e
}

func (e *Event) stamp(now time.Time) {
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Date = e.Timestamp.Format("2006-01-02")
	e.Time = e.Timestamp.Format("15:04:05.000")
}
