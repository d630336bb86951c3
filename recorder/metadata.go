package recorder

import (
	"encoding/json"
	"io"
)

// Metadata is the human-readable JSON sidecar written alongside a
// recording, grounded on the replay.Writer Manifest sidecar pattern.
type Metadata struct {
	Created            string            `json:"created"`
	Channel            string            `json:"channel"`
	SerializerType     string            `json:"serializerType"`
	SerializerVersion  string            `json:"serializerVersion"`
	MessageType        string            `json:"messageType"`
	MessageCount       *int64            `json:"messageCount,omitempty"`
	FirstMessageTicks  *int64            `json:"firstMessageTicks,omitempty"`
	LastMessageTicks   *int64            `json:"lastMessageTicks,omitempty"`
	DurationMs         *int64            `json:"durationMs,omitempty"`
	IndexFile          string            `json:"indexFile,omitempty"`
	Custom             map[string]string `json:"custom,omitempty"`
}

// WriteMetadata encodes md as indented JSON to w.
func WriteMetadata(w io.Writer, md *Metadata) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(md)
}

// ReadMetadata decodes a metadata sidecar.
func ReadMetadata(r io.Reader) (*Metadata, error) {
	var md Metadata
	if err := json.NewDecoder(r).Decode(&md); err != nil {
		return nil, err
	}
	return &md, nil
}
