package dlq

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/xraph/conveyor"
)

// PayloadEncodingBase64 marks a payload that is not valid JSON. It travels
// as a base64 string in "payload" with "payload_encoding":"base64". Valid
// JSON payloads are embedded as-is and carry no encoding.
const PayloadEncodingBase64 = "base64"

// encodePayload returns the wire form of an opaque payload.
func encodePayload(p []byte) (json.RawMessage, string) {
	if len(p) == 0 {
		return nil, ""
	}
	if json.Valid(p) {
		return json.RawMessage(p), ""
	}
	s, _ := json.Marshal(base64.StdEncoding.EncodeToString(p))
	return s, PayloadEncodingBase64
}

// decodePayload reverses encodePayload.
func decodePayload(raw json.RawMessage, encoding string) ([]byte, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch encoding {
	case "":
		return bytes.Clone(raw), nil
	case PayloadEncodingBase64:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: base64 payload must be a string", conveyor.ErrInvalidRequest)
		}
		p, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: payload: %v", conveyor.ErrInvalidRequest, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown payload encoding %q", conveyor.ErrInvalidRequest, encoding)
	}
}

// entryFields and submissionFields drop the JSON methods so the wrappers
// below can reuse the struct tags.
type (
	entryFields      Entry
	submissionFields Submission
)

func (e Entry) MarshalJSON() ([]byte, error) {
	payload, enc := encodePayload(e.Payload)
	return json.Marshal(struct {
		entryFields
		Payload         json.RawMessage `json:"payload,omitempty"`
		PayloadEncoding string          `json:"payload_encoding,omitempty"`
	}{entryFields(e), payload, enc})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	aux := struct {
		*entryFields
		Payload         json.RawMessage `json:"payload"`
		PayloadEncoding string          `json:"payload_encoding"`
	}{entryFields: (*entryFields)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p, err := decodePayload(aux.Payload, aux.PayloadEncoding)
	if err != nil {
		return err
	}
	e.Payload = p
	return nil
}

func (s Submission) MarshalJSON() ([]byte, error) {
	payload, enc := encodePayload(s.Payload)
	return json.Marshal(struct {
		submissionFields
		Payload         json.RawMessage `json:"payload,omitempty"`
		PayloadEncoding string          `json:"payload_encoding,omitempty"`
	}{submissionFields(s), payload, enc})
}

// UnmarshalJSON rejects unknown fields: a Submission is request input.
func (s *Submission) UnmarshalJSON(data []byte) error {
	aux := struct {
		*submissionFields
		Payload         json.RawMessage `json:"payload"`
		PayloadEncoding string          `json:"payload_encoding"`
	}{submissionFields: (*submissionFields)(s)}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&aux); err != nil {
		return err
	}
	p, err := decodePayload(aux.Payload, aux.PayloadEncoding)
	if err != nil {
		return err
	}
	s.Payload = p
	return nil
}
