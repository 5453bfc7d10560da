package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// StreamEvent is one event of a chat stream. The set of implementations is closed:
// TokenEvent, CompleteEvent and ErrorEvent.
type StreamEvent interface {
	streamEvent()
}

// TokenEvent carries the next slice of assistant text.
type TokenEvent struct {
	Content string
}

// CompleteEvent finalizes a turn.
type CompleteEvent struct {
	MessageID          string
	ConversationID     string
	Citations          []Citation
	SuggestedFollowups []string
	DebugInfo          *DebugInfo
}

// ErrorEvent is a backend-reported failure of the turn.
type ErrorEvent struct {
	Content string
}

func (TokenEvent) streamEvent()    {}
func (CompleteEvent) streamEvent() {}
func (ErrorEvent) streamEvent()    {}

type wireEvent struct {
	Type               string     `json:"type"`
	Content            string     `json:"content"`
	MessageID          string     `json:"message_id"`
	ConversationID     string     `json:"conversation_id"`
	Citations          []Citation `json:"citations"`
	SuggestedFollowups []string   `json:"suggested_followups"`
	DebugInfo          *DebugInfo `json:"debug_info"`
}

var ErrUnknownEvent = errors.New("unknown stream event type")

// DecodeStreamEvent parses one JSON event payload.
func DecodeStreamEvent(data []byte) (StreamEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}
	switch w.Type {
	case "token":
		return TokenEvent{Content: w.Content}, nil
	case "complete":
		return CompleteEvent{
			MessageID:          w.MessageID,
			ConversationID:     w.ConversationID,
			Citations:          w.Citations,
			SuggestedFollowups: w.SuggestedFollowups,
			DebugInfo:          w.DebugInfo,
		}, nil
	case "error":
		return ErrorEvent{Content: w.Content}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, w.Type)
	}
}

// EncodeStreamEvent is the inverse of DecodeStreamEvent.
func EncodeStreamEvent(ev StreamEvent) ([]byte, error) {
	var w wireEvent
	switch e := ev.(type) {
	case TokenEvent:
		w = wireEvent{Type: "token", Content: e.Content}
	case CompleteEvent:
		w = wireEvent{
			Type:               "complete",
			MessageID:          e.MessageID,
			ConversationID:     e.ConversationID,
			Citations:          e.Citations,
			SuggestedFollowups: e.SuggestedFollowups,
			DebugInfo:          e.DebugInfo,
		}
	case ErrorEvent:
		w = wireEvent{Type: "error", Content: e.Content}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	return json.Marshal(w)
}
