package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// CurrentVersion is the envelope version written by this client.
const CurrentVersion = 1

// ErrUnsupportedVersion is returned when a row was written by a newer client.
var ErrUnsupportedVersion = errors.New("unsupported schema version")

// Envelope wraps a record payload in the remote data column.
type Envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Wrap encodes payload into a current-version envelope.
func Wrap(payload json.RawMessage) (json.RawMessage, error) {
	env := Envelope{
		SchemaVersion: CurrentVersion,
		Payload:       payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Unwrap returns the payload and version held in data.
//
// Only an object holding exactly schema_version (an integer) and payload (an
// object) is an envelope. Anything else is a legacy row and decodes as
// version 0 with the whole object as payload, so a bare payload may carry
// its own schema_version field. A bare payload made of exactly those two
// fields is read as an envelope.
func Unwrap(data json.RawMessage) (json.RawMessage, int, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, 0, fmt.Errorf("data must be a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, 0, fmt.Errorf("failed to parse data: %w", err)
	}

	version, payload, ok := envelopeFields(fields)
	if !ok {
		return append(json.RawMessage(nil), trimmed...), 0, nil
	}
	if version > CurrentVersion {
		return nil, version, fmt.Errorf("%w: %d (max %d)", ErrUnsupportedVersion, version, CurrentVersion)
	}
	return payload, version, nil
}

func envelopeFields(fields map[string]json.RawMessage) (int, json.RawMessage, bool) {
	if len(fields) != 2 {
		return 0, nil, false
	}
	rawVersion, ok := fields["schema_version"]
	if !ok {
		return 0, nil, false
	}
	payload, ok := fields["payload"]
	if !ok {
		return 0, nil, false
	}

	var version int
	if err := json.Unmarshal(rawVersion, &version); err != nil {
		return 0, nil, false
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return 0, nil, false
	}
	return version, payload, true
}
