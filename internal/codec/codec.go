// Package codec turns a Diff into the JSON payload stored in a snapshot
// record and back, applying one of the compression tiers on the way.
//
// The wire form of a diff is a JSON object mapping each path to the base64
// encoding of its content, or to null for a deletion. An empty file encodes
// as "" and therefore never collides with the deletion marker. Paths are
// JSON object keys, so a path that is not valid UTF-8 cannot be encoded.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/bamsammich/strata/internal/domain"
)

// wireDiff is the JSON object form of a diff. A nil value is a deletion.
type wireDiff map[string]*string

// Encode serializes d for storage under tier t.
func Encode(d domain.Diff, t domain.Tier) (json.RawMessage, error) {
	switch t {
	case domain.TierNone:
		return encodeNone(d)
	case domain.TierPerFile:
		return encodePerFile(d)
	case domain.TierWholePayload:
		return encodeWhole(d)
	default:
		return nil, fmt.Errorf("%w: unknown compression tier %d", domain.ErrConfiguration, int(t))
	}
}

// Decode parses raw, which was produced by Encode under tier t. Any
// malformed payload yields an error wrapping domain.ErrCorruptData.
func Decode(raw json.RawMessage, t domain.Tier) (domain.Diff, error) {
	var (
		d   domain.Diff
		err error
	)
	switch t {
	case domain.TierNone:
		d, err = decodeNone(raw)
	case domain.TierPerFile:
		d, err = decodePerFile(raw)
	case domain.TierWholePayload:
		d, err = decodeWhole(raw)
	default:
		err = fmt.Errorf("unknown compression tier %d", int(t))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptData, err)
	}
	return d, nil
}

func encodeNone(d domain.Diff) (json.RawMessage, error) {
	w, err := toWire(d, nil)
	if err != nil {
		return nil, err
	}
	return marshalWire(w)
}

func decodeNone(raw json.RawMessage) (domain.Diff, error) {
	w, err := unmarshalWire(raw)
	if err != nil {
		return nil, err
	}
	return fromWire(w, nil)
}

func encodePerFile(d domain.Diff) (json.RawMessage, error) {
	w, err := toWire(d, Compress)
	if err != nil {
		return nil, err
	}
	return marshalWire(w)
}

func decodePerFile(raw json.RawMessage) (domain.Diff, error) {
	w, err := unmarshalWire(raw)
	if err != nil {
		return nil, err
	}
	return fromWire(w, Decompress)
}

func encodeWhole(d domain.Diff) (json.RawMessage, error) {
	inner, err := encodeNone(d)
	if err != nil {
		return nil, err
	}
	packed, err := Compress(inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(packed))
}

func decodeWhole(raw json.RawMessage) (domain.Diff, error) {
	var blob string
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("whole payload: %w", err)
	}
	packed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("whole payload: %w", err)
	}
	inner, err := Decompress(packed)
	if err != nil {
		return nil, fmt.Errorf("whole payload: %w", err)
	}
	return decodeNone(inner)
}

type transform func([]byte) ([]byte, error)

func toWire(d domain.Diff, fn transform) (wireDiff, error) {
	w := make(wireDiff, len(d))
	for p, c := range d {
		// encoding/json would rewrite invalid bytes as U+FFFD and merge
		// distinct paths.
		if !utf8.ValidString(p) {
			return nil, fmt.Errorf("path %q is not valid UTF-8", p)
		}
		if c.Deleted {
			w[p] = nil
			continue
		}
		content := c.Content
		if fn != nil {
			var err error
			if content, err = fn(content); err != nil {
				return nil, fmt.Errorf("path %q: %w", p, err)
			}
		}
		s := base64.StdEncoding.EncodeToString(content)
		w[p] = &s
	}
	return w, nil
}

func fromWire(w wireDiff, fn transform) (domain.Diff, error) {
	d := make(domain.Diff, len(w))
	for p, v := range w {
		if v == nil {
			d[p] = domain.Delete()
			continue
		}
		content, err := base64.StdEncoding.DecodeString(*v)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", p, err)
		}
		if fn != nil {
			if content, err = fn(content); err != nil {
				return nil, fmt.Errorf("path %q: %w", p, err)
			}
		}
		d[p] = domain.Replace(content)
	}
	return d, nil
}

func marshalWire(w wireDiff) (json.RawMessage, error) {
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode diff: %w", err)
	}
	return b, nil
}

func unmarshalWire(raw json.RawMessage) (wireDiff, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("diff payload is not a JSON object")
	}
	var w wireDiff
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("decode diff: %w", err)
	}
	return w, nil
}
