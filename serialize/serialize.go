// Package serialize defines the body-serialiser contract consumed by
// the recorder's frame codec, plus a JSON reference implementation.
package serialize

import (
	"bytes"
	"encoding/json"
)

// Version identifies a serialiser's wire format. A major mismatch
// between writer and reader is a hard error (FrameCorruption at the
// codec layer); a minor mismatch is accepted.
type Version struct {
	Major uint8
	Minor uint8
}

// Serializer converts a typed body to and from bytes for the recorder's
// frame codec. Implementations must be safe for concurrent use.
type Serializer[B any] interface {
	Version() Version
	Serialize(value B, w *bytes.Buffer) error
	Deserialize(data []byte) (B, error)
}

// JSON is the reference Serializer[B] implementation, grounded on the
// teacher's MessageEnvelope.Serialize (encoding/json throughout).
type JSON[B any] struct{}

func (JSON[B]) Version() Version { return Version{Major: 1, Minor: 0} }

func (JSON[B]) Serialize(value B, w *bytes.Buffer) error {
	enc := json.NewEncoder(w)
	return enc.Encode(value)
}

func (JSON[B]) Deserialize(data []byte) (B, error) {
	var v B
	if len(data) == 0 {
		return v, nil
	}
	err := json.Unmarshal(data, &v)
	return v, err
}
