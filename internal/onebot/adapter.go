package onebot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"personabot/internal/domain"
)

// Adapter translates between wire frames and internal messages. It is pure
// and stateless apart from the configured self id.
type Adapter struct {
	selfID string
}

// NewAdapter creates an adapter for the given bot account id.
func NewAdapter(selfID string) *Adapter {
	return &Adapter{selfID: selfID}
}

// SelfID returns the configured bot account id.
func (a *Adapter) SelfID() string { return a.selfID }

var knownEventTypes = map[string]domain.EventType{
	"message": domain.EventMessage,
	"notice":  domain.EventNotice,
	"request": domain.EventRequest,
	"meta":    domain.EventMeta,
}

// DecodeEvent parses a raw wire frame into a ChatEvent. Malformed frames
// yield an error, never a panic.
func (a *Adapter) DecodeEvent(raw []byte) (domain.ChatEvent, error) {
	var frame EventFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return domain.ChatEvent{}, fmt.Errorf("decode event frame: %w", err)
	}
	typ, ok := knownEventTypes[frame.Type]
	if !ok {
		return domain.ChatEvent{}, fmt.Errorf("unknown event type %q", frame.Type)
	}

	received := time.Now()
	if frame.Time > 0 {
		received = time.Unix(frame.Time, 0)
	}
	selfID := frame.SelfID.String()
	if selfID == "" {
		selfID = a.selfID
	}

	return domain.ChatEvent{
		Type:       typ,
		DetailType: frame.DetailType,
		ID:         frame.MessageID.String(),
		SenderID:   frame.UserID.String(),
		GroupID:    frame.GroupID.String(),
		SelfID:     selfID,
		Segments:   frame.Message,
		Received:   received,
	}, nil
}

// ToInternal normalizes a message event into the pipeline representation.
func (a *Adapter) ToInternal(ev domain.ChatEvent) (domain.InternalMessage, error) {
	if ev.Type != domain.EventMessage {
		return domain.InternalMessage{}, fmt.Errorf("cannot normalize %s event as message", ev.Type)
	}
	selfID := ev.SelfID
	if selfID == "" {
		selfID = a.selfID
	}
	return domain.InternalMessage{
		ID:        ev.ID,
		SenderID:  ev.SenderID,
		GroupID:   ev.GroupID,
		Text:      PlainText(ev.Segments),
		Segments:  ev.Segments,
		Addressed: addressed(ev.Segments, selfID),
		Timestamp: ev.Received,
	}, nil
}

// PlainText concatenates the text segments of a message in order.
func PlainText(segments []domain.Segment) string {
	var sb strings.Builder
	for _, seg := range segments {
		if seg.Type != "text" {
			continue
		}
		if s, ok := seg.Data["text"].(string); ok {
			sb.WriteString(s)
		}
	}
	return sb.String()
}

// addressed reports whether the segment list mentions the bot or replies to
// one of its messages.
func addressed(segments []domain.Segment, selfID string) bool {
	if selfID == "" {
		return false
	}
	for _, seg := range segments {
		switch seg.Type {
		case "at", "mention":
			if segmentID(seg, "user_id") == selfID || segmentID(seg, "qq") == selfID {
				return true
			}
		case "reply":
			if segmentID(seg, "user_id") == selfID {
				return true
			}
		}
	}
	return false
}

// segmentID reads an id field from segment data, tolerating numbers.
func segmentID(seg domain.Segment, key string) string {
	switch v := seg.Data[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// TextSegments wraps plain text as a single-segment wire message.
func TextSegments(text string) []domain.Segment {
	if text == "" {
		return nil
	}
	return []domain.Segment{{Type: "text", Data: map[string]any{"text": text}}}
}

// ReplyTo prepends a reply segment referencing the original message so the
// platform renders the response as a threaded reply.
func ReplyTo(messageID string, segments []domain.Segment) []domain.Segment {
	if messageID == "" {
		return segments
	}
	reply := domain.Segment{Type: "reply", Data: map[string]any{"id": messageID}}
	out := make([]domain.Segment, 0, len(segments)+1)
	out = append(out, reply)
	return append(out, segments...)
}

// SegmentsFromParam accepts either a string or a segment list, as action
// callers are allowed to pass both.
func SegmentsFromParam(v any) ([]domain.Segment, error) {
	switch m := v.(type) {
	case string:
		return TextSegments(m), nil
	case []any:
		out := make([]domain.Segment, 0, len(m))
		for _, item := range m {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("message segment is not an object")
			}
			typ, _ := obj["type"].(string)
			if typ == "" {
				return nil, fmt.Errorf("message segment missing type")
			}
			data, _ := obj["data"].(map[string]any)
			if data == nil {
				data = map[string]any{}
			}
			out = append(out, domain.Segment{Type: typ, Data: data})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("message must be a string or a segment list")
	}
}
