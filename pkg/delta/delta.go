// Package delta reconstructs a repetition's effective payload from the
// original event payload plus the stored difference. Two encodings coexist:
// the current JSON-patch delta and the legacy partial-payload merge.
// All functions are pure; inputs are never mutated.
package delta

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/wI2L/jsondiff"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/codex-team/hawk.events/pkg/models"
)

// Encoding identifies how a repetition stores its difference from the
// original payload.
type Encoding int

const (
	// EncodingNone means the repetition is identical to the original.
	EncodingNone Encoding = iota
	// EncodingDelta is the current format: a JSON-patch string.
	EncodingDelta
	// EncodingLegacy is the deprecated partial-payload merge format.
	EncodingLegacy
)

// EncodingOf classifies a repetition. A delta takes precedence over a
// legacy payload if a document somehow carries both.
func EncodingOf(rep *models.Repetition) Encoding {
	switch {
	case rep == nil:
		return EncodingNone
	case rep.Delta != nil:
		return EncodingDelta
	case rep.Payload != nil:
		return EncodingLegacy
	default:
		return EncodingNone
	}
}

// DecodeError reports malformed JSON in a stored delta or in the
// addons/context payload fields. It must surface to the caller: silently
// dropping a malformed repetition would corrupt the group's visible history.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode repetition %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Apply materializes a repetition's full payload from the original payload.
// A nil repetition, or one with neither a delta nor a legacy payload,
// yields a deep copy of the original unchanged.
func Apply(original models.Payload, rep *models.Repetition) (models.Payload, error) {
	switch EncodingOf(rep) {
	case EncodingNone:
		return copyMap(original), nil
	case EncodingDelta:
		return applyPatch(original, *rep.Delta)
	case EncodingLegacy:
		return mergeLegacy(original, rep.Payload), nil
	default:
		return nil, fmt.Errorf("unknown repetition encoding %d", EncodingOf(rep))
	}
}

// Encode computes the JSON-patch delta that transforms original into the
// repetition's full payload, in the same normalized space Apply patches in
// (addons/context parsed from their string form). Apply(original, delta)
// round-trips back to full.
func Encode(original, full models.Payload) (string, error) {
	src := copyMap(original)
	if err := inflateJSONFields(src); err != nil {
		return "", err
	}
	dst := copyMap(full)
	if err := inflateJSONFields(dst); err != nil {
		return "", err
	}

	patch, err := jsondiff.Compare(src, dst)
	if err != nil {
		return "", fmt.Errorf("diff payloads: %w", err)
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return "", fmt.Errorf("marshal patch: %w", err)
	}
	return string(raw), nil
}

func applyPatch(original models.Payload, rawDelta string) (models.Payload, error) {
	doc := copyMap(original)
	if err := inflateJSONFields(doc); err != nil {
		return nil, err
	}

	patch, err := jsonpatch.DecodePatch([]byte(rawDelta))
	if err != nil {
		return nil, &DecodeError{Field: "delta", Err: err}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	patched, err := patch.Apply(raw)
	if err != nil {
		return nil, &DecodeError{Field: "delta", Err: err}
	}

	var out models.Payload
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, &DecodeError{Field: "delta", Err: err}
	}
	if err := deflateJSONFields(out); err != nil {
		return nil, err
	}
	return out, nil
}

// mergeLegacy merges a legacy partial payload over the original,
// field-by-field:
//
//   - a null patch value keeps the original ("inherit");
//   - two object values recurse with the same rule;
//   - anything else on the patch side wins, arrays replaced wholesale.
//
// There is deliberately no way for a legacy repetition to set a field to
// null; changing that would alter the meaning of already-persisted data.
func mergeLegacy(original, patch models.Payload) models.Payload {
	out := copyMap(original)
	for key, value := range patch {
		if value == nil {
			continue
		}
		if om, ok := asMap(out[key]); ok {
			if pm, ok := asMap(value); ok {
				out[key] = mergeLegacy(om, pm)
				continue
			}
		}
		out[key] = copyValue(value)
	}
	return out
}

// inflateJSONFields parses the addons/context string fields into objects so
// a patch can address paths inside them.
func inflateJSONFields(payload models.Payload) error {
	for _, field := range []string{models.PayloadAddons, models.PayloadContext} {
		raw, ok := payload[field].(string)
		if !ok {
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return &DecodeError{Field: field, Err: err}
		}
		payload[field] = parsed
	}
	return nil
}

// deflateJSONFields re-serializes addons/context back to their stored
// string form.
func deflateJSONFields(payload models.Payload) error {
	for _, field := range []string{models.PayloadAddons, models.PayloadContext} {
		value, ok := payload[field]
		if !ok || value == nil {
			continue
		}
		if _, isString := value.(string); isString {
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", field, err)
		}
		payload[field] = string(raw)
	}
	return nil
}

func asMap(v any) (models.Payload, bool) {
	switch m := v.(type) {
	case models.Payload:
		return m, true
	case primitive.M:
		return models.Payload(m), true
	default:
		return nil, false
	}
}

func copyMap(m models.Payload) models.Payload {
	if m == nil {
		return nil
	}
	out := make(models.Payload, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch typed := v.(type) {
	case models.Payload:
		return copyMap(typed)
	case primitive.M:
		return copyMap(models.Payload(typed))
	case []any:
		return copySlice(typed)
	case primitive.A:
		return copySlice(typed)
	default:
		return v
	}
}

func copySlice(s []any) []any {
	out := make([]any, len(s))
	for i, item := range s {
		out[i] = copyValue(item)
	}
	return out
}
