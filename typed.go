package datapool

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/minio/blake2b-simd"
)

// NewStringPool creates a pool of strings keyed by the string itself.
func NewStringPool(name string, transport Transport, opts ...Option[string]) (*Pool[string], error) {
	hasher := func(value string) string { return value }
	return New(name, hasher, StringCodec{}, transport, opts...)
}

// NewNumberPool creates a pool of float64 values keyed by their canonical
// decimal form, so the same number always lands on the same key.
func NewNumberPool(name string, transport Transport, opts ...Option[float64]) (*Pool[float64], error) {
	return New(name, formatNumber, NumberCodec{}, transport, opts...)
}

// NewJSONPool creates a pool of JSON-encodable values keyed by a content
// hash of their canonical encoding: equal values share a key, any change
// produces a new one. Values that carry their own identity should override
// the key derivation with WithHasher.
func NewJSONPool[T any](name string, transport Transport, opts ...Option[T]) (*Pool[T], error) {
	return New(name, JSONHasher[T](), JSONCodec[T]{}, transport, opts...)
}

// JSONHasher returns the content-addressing hasher JSON pools use by
// default: base64 of the blake2b digest over the value's JSON encoding.
// It panics on values encoding/json cannot represent; such values are
// rejected with an error by the codec before any pool would hash them.
func JSONHasher[T any]() Hasher[T] {
	return func(value T) string {
		data, err := json.Marshal(value)
		if err != nil {
			panic(fmt.Sprintf("datapool: hash unencodable value: %v", err))
		}
		digest := blake2b.Sum256(data)
		return base64.RawURLEncoding.EncodeToString(digest[:])
	}
}
