package emitter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-liveness/modules/facecapture"
)

// Encoding names a payload format
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// Event is the wire form of one finished capture attempt
type Event struct {
	EventID                string    `json:"event_id" msgpack:"event_id"`
	InstanceID             string    `json:"instance_id" msgpack:"instance_id"`
	SubjectID              string    `json:"subject_id" msgpack:"subject_id"`
	Attempt                int       `json:"attempt" msgpack:"attempt"`
	AttemptID              string    `json:"attempt_id,omitempty" msgpack:"attempt_id,omitempty"`
	Outcome                string    `json:"outcome" msgpack:"outcome"`
	Status                 string    `json:"status,omitempty" msgpack:"status,omitempty"`
	SessionID              string    `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	UsedFallbackIdentifier bool      `json:"used_fallback_identifier" msgpack:"used_fallback_identifier"`
	Error                  string    `json:"error,omitempty" msgpack:"error,omitempty"`
	DurationMS             int64     `json:"duration_ms" msgpack:"duration_ms"`
	Timestamp              time.Time `json:"timestamp" msgpack:"timestamp"`
}

// NewEvent converts a flow report into an event
func NewEvent(instanceID string, r facecapture.Report) Event {
	ts := r.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return Event{
		EventID:                uuid.New().String(),
		InstanceID:             instanceID,
		SubjectID:              r.SubjectID,
		Attempt:                r.Attempt,
		AttemptID:              r.AttemptID,
		Outcome:                r.Outcome.String(),
		Status:                 string(r.Status),
		SessionID:              r.SessionID,
		UsedFallbackIdentifier: r.UsedFallbackIdentifier,
		Error:                  r.Error,
		DurationMS:             r.Duration.Milliseconds(),
		Timestamp:              ts.UTC(),
	}
}

// Marshal encodes the event
func (e Event) Marshal(enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingJSON, "":
		return json.Marshal(e)
	case EncodingMsgpack:
		return msgpack.Marshal(e)
	default:
		return nil, fmt.Errorf("emitter: unknown encoding %q", enc)
	}
}

// Unmarshal decodes a payload produced by Marshal
func Unmarshal(enc Encoding, data []byte) (Event, error) {
	var e Event
	var err error
	switch enc {
	case EncodingJSON, "":
		err = json.Unmarshal(data, &e)
	case EncodingMsgpack:
		err = msgpack.Unmarshal(data, &e)
	default:
		err = fmt.Errorf("emitter: unknown encoding %q", enc)
	}
	return e, err
}
