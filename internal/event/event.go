// Package event defines the payloads carried between pipeline stages.
// All stages exchange JSON-encoded events over durable queues; the field
// names here are the wire contract and must not change independently of
// the producers and consumers on either side.
package event

// SignalKind identifies one modality-specific extraction result.
type SignalKind string

const (
	KindImages           SignalKind = "images"
	KindTranscribedAudio SignalKind = "transcribed_audio"
	KindText             SignalKind = "text"
)

// SignalEvent is one modality signal for a captured message. The capture
// service publishes one per present modality; the transcriber republishes
// the audio signal with TranscribedText populated. Signals for the same
// message arrive in no particular order and may be redelivered.
type SignalEvent struct {
	MessageID       int64    `json:"message_id"`
	ChatID          int64    `json:"chat_id"`
	AuthorID        int64    `json:"author_id"`
	Text            string   `json:"text,omitempty"`
	TranscribedText string   `json:"transcribed_text,omitempty"`
	HasVideo        bool     `json:"has_video"`
	HasPhoto        bool     `json:"has_photo"`
	HasAudio        bool     `json:"has_audio"`
	ImageIDs        []string `json:"image_ids,omitempty"`
	AudioIDs        []string `json:"audio_ids,omitempty"`

	// Reply context, present when the captured message was a reply.
	IsReply            bool   `json:"is_reply,omitempty"`
	ReplyText          string `json:"reply_text,omitempty"`
	ReplyToChannelPost bool   `json:"reply_to_channel_post,omitempty"`
}

// ReadyEvent is the merged view of all signals for one message, emitted
// exactly once per completed aggregation and consumed by rule evaluation.
type ReadyEvent struct {
	MessageID       int64    `json:"message_id"`
	ChatID          int64    `json:"chat_id"`
	AuthorID        int64    `json:"author_id"`
	Text            string   `json:"text,omitempty"`
	TranscribedText string   `json:"transcribed_text,omitempty"`
	HasVideo        bool     `json:"has_video"`
	HasPhoto        bool     `json:"has_photo"`
	HasAudio        bool     `json:"has_audio"`
	ImageIDs        []string `json:"image_ids,omitempty"`
	AudioIDs        []string `json:"audio_ids,omitempty"`

	IsReply            bool   `json:"is_reply,omitempty"`
	ReplyText          string `json:"reply_text,omitempty"`
	ReplyToChannelPost bool   `json:"reply_to_channel_post,omitempty"`
}

// ViolationEvent is published when a rule batch evaluation answers "yes"
// for a rule. One event per (message, rule) pair.
type ViolationEvent struct {
	RuleID          int64  `json:"rule_id"`
	RuleName        string `json:"rule_name"`
	RuleDescription string `json:"rule_description"`
	MessageID       int64  `json:"message_id"`
	ChatID          int64  `json:"chat_id"`
	AuthorID        int64  `json:"author_id"`
}
