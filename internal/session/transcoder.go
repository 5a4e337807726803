package session

import (
	"encoding/json"
	"fmt"
)

// Transcoder serializes a session's attribute mapping and metadata to byte
// sequences and back. Implementations are pluggable; the backup layer treats
// them as opaque codecs.
type Transcoder interface {
	EncodeAttributes(attrs map[string]any) ([]byte, error)
	DecodeAttributes(data []byte) (map[string]any, error)
	// Encode wraps already-encoded attribute bytes with the session header.
	Encode(meta Metadata, attrs []byte) ([]byte, error)
	// Decode splits stored bytes back into header and attribute bytes.
	Decode(data []byte) (Metadata, []byte, error)
}

// TranscodeError is the typed serialization failure surfaced by transcoders.
type TranscodeError struct {
	Op  string
	Err error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("session: transcode %s: %v", e.Op, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// JSONTranscoder is the reference Transcoder. Attribute values must be
// JSON-representable; hosts with richer attribute types plug in their own
// codec.
type JSONTranscoder struct{}

type jsonEnvelope struct {
	Meta       Metadata        `json:"meta"`
	Attributes json.RawMessage `json:"attributes"`
}

// EncodeAttributes serializes the attribute map.
func (JSONTranscoder) EncodeAttributes(attrs map[string]any) ([]byte, error) {
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, &TranscodeError{Op: "encode attributes", Err: err}
	}
	return data, nil
}

// DecodeAttributes rebuilds the attribute map.
func (JSONTranscoder) DecodeAttributes(data []byte) (map[string]any, error) {
	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, &TranscodeError{Op: "decode attributes", Err: err}
	}
	return attrs, nil
}

// Encode wraps attribute bytes with the session header.
func (JSONTranscoder) Encode(meta Metadata, attrs []byte) ([]byte, error) {
	if len(attrs) == 0 {
		attrs = []byte("{}")
	}
	data, err := json.Marshal(jsonEnvelope{Meta: meta, Attributes: attrs})
	if err != nil {
		return nil, &TranscodeError{Op: "encode", Err: err}
	}
	return data, nil
}

// Decode splits stored bytes into the session header and attribute bytes.
func (JSONTranscoder) Decode(data []byte) (Metadata, []byte, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Metadata{}, nil, &TranscodeError{Op: "decode", Err: err}
	}
	return env.Meta, env.Attributes, nil
}
