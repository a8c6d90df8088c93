package datapool

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Codec serializes contributions for broadcast between nodes. The encoded
// form is a string so it can travel inside the textual wire envelope; it must
// round-trip: Unmarshal(Marshal(v)) == v for every value the codec accepts.
type Codec[T any] interface {
	Marshal(value T) (string, error)
	Unmarshal(data string) (T, error)
}

// Hasher derives the pool key for a value. It must be pure and stable for the
// lifetime of a logical contribution: two values representing the same
// contribution must hash to the same key.
type Hasher[T any] func(value T) string

// StringCodec passes strings through unchanged.
type StringCodec struct{}

func (StringCodec) Marshal(value string) (string, error) {
	return value, nil
}

func (StringCodec) Unmarshal(data string) (string, error) {
	return data, nil
}

// NumberCodec encodes float64 values in the shortest decimal form that parses
// back exactly. NaN and infinities are rejected: they have no portable
// encoding and would break the round-trip contract.
type NumberCodec struct{}

func (NumberCodec) Marshal(value float64) (string, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "", fmt.Errorf("datapool: cannot encode non-finite number %v", value)
	}
	return formatNumber(value), nil
}

func (NumberCodec) Unmarshal(data string) (float64, error) {
	value, err := strconv.ParseFloat(data, 64)
	if err != nil {
		return 0, fmt.Errorf("datapool: decode number %q: %w", data, err)
	}
	return value, nil
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'g', -1, 64)
}

// JSONCodec uses encoding/json for serialization. It works with any
// JSON-encodable type; values survive a marshal/unmarshal round trip up to
// the usual JSON equivalences.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Marshal(value T) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("datapool: encode json: %w", err)
	}
	return string(data), nil
}

func (JSONCodec[T]) Unmarshal(data string) (T, error) {
	var value T
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return value, fmt.Errorf("datapool: decode json: %w", err)
	}
	return value, nil
}
