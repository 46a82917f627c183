package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"relight/internal/domain"
)

// DecodeJobInput decodes a single JSON object. Numbers are kept as json.Number
// so 64-bit seeds survive without float rounding.
func DecodeJobInput(r io.Reader) (domain.JobInput, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode job input: %w", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, domain.NewValidationError("", "job input must be an object")
	}
	return domain.JobInput(obj), nil
}

// DecodeRequest accepts either {"input": {...}} or the bare job object.
func DecodeRequest(body []byte) (domain.JobInput, error) {
	obj, err := DecodeJobInput(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	inner, ok := obj["input"]
	if !ok {
		return obj, nil
	}
	nested, ok := inner.(map[string]any)
	if !ok {
		return nil, domain.NewValidationError("input", "must be an object")
	}
	return domain.JobInput(nested), nil
}

// EncodeInput marshals a job input for storage, rejecting nil maps.
func EncodeInput(raw domain.JobInput) ([]byte, error) {
	if raw == nil {
		return nil, errors.New("encode job input: nil input")
	}
	return json.Marshal(raw)
}
