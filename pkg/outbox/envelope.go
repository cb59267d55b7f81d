package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// currentVersion is the envelope layout written by Emit.
const currentVersion = 1

// PayloadEnvelope wraps every outbox payload. Source names the binary that
// queued the event.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Source     string          `json:"source,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored payload and rejects envelopes from a newer
// layout or without data.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version > currentVersion {
		return env, fmt.Errorf("envelope version %d is newer than %d", env.Version, currentVersion)
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, fmt.Errorf("envelope %s carries no data", env.EventID)
	}
	return env, nil
}

// DecodeData unmarshals the event body into v.
func (e PayloadEnvelope) DecodeData(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode envelope data: %w", err)
	}
	return nil
}
