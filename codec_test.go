package datapool

import (
	"context"
	"math"
	"strings"
	"testing"
)

func TestStringCodecPassthrough(t *testing.T) {
	codec := StringCodec{}
	data, err := codec.Marshal("lion")
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if data != "lion" {
		t.Fatalf("marshal mismatch: %v", data)
	}
	value, err := codec.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if value != "lion" {
		t.Fatalf("unmarshal mismatch: %v", value)
	}
}

func TestNumberCodecRoundTrip(t *testing.T) {
	codec := NumberCodec{}
	values := []float64{0, 1, -1.5, 0.1, 1e21, -1e-300, math.MaxFloat64, math.SmallestNonzeroFloat64}

	for _, value := range values {
		data, err := codec.Marshal(value)
		if err != nil {
			t.Fatalf("marshal %v failed: %v", value, err)
		}
		decoded, err := codec.Unmarshal(data)
		if err != nil {
			t.Fatalf("unmarshal %q failed: %v", data, err)
		}
		if decoded != value {
			t.Fatalf("round trip mismatch: %v -> %q -> %v", value, data, decoded)
		}
	}
}

func TestNumberCodecCanonicalForm(t *testing.T) {
	codec := NumberCodec{}
	data, err := codec.Marshal(3)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if data != "3" {
		t.Fatalf("expected shortest form, got %q", data)
	}
}

func TestNumberCodecRejectsNonFinite(t *testing.T) {
	codec := NumberCodec{}
	for _, value := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := codec.Marshal(value); err == nil {
			t.Fatalf("expected error for %v", value)
		}
	}
}

func TestNumberCodecDecodeError(t *testing.T) {
	codec := NumberCodec{}
	if _, err := codec.Unmarshal("lion"); err == nil {
		t.Fatalf("expected decode error")
	}
}

type scoreboard struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := JSONCodec[scoreboard]{}
	sent := scoreboard{Name: "alice", Score: 42}

	data, err := codec.Marshal(sent)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	got, err := codec.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got != sent {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestJSONCodecDecodeError(t *testing.T) {
	codec := JSONCodec[scoreboard]{}
	if _, err := codec.Unmarshal("{"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestJSONHasherIsStable(t *testing.T) {
	hasher := JSONHasher[scoreboard]()

	a := hasher(scoreboard{Name: "alice", Score: 42})
	b := hasher(scoreboard{Name: "alice", Score: 42})
	c := hasher(scoreboard{Name: "alice", Score: 43})

	if a != b {
		t.Fatalf("equal values hashed differently: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("distinct values collided: %q", a)
	}
	if strings.ContainsAny(a, "+/=") {
		t.Fatalf("key is not URL-safe: %q", a)
	}
}

func TestNewStringPoolKeysByValue(t *testing.T) {
	bus := newTestBus()
	pool, err := NewStringPool("animals", bus, WithRegistry[string](NewRegistry()))
	if err != nil {
		t.Fatalf("new pool failed: %v", err)
	}
	defer pool.Close(context.Background())

	if err := pool.ReplaceContribution(context.Background(), "lion"); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	value, err := pool.GetContribution(context.Background(), "lion")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != "lion" {
		t.Fatalf("value mismatch: %v", value)
	}
}

func TestNewNumberPoolKeysByCanonicalForm(t *testing.T) {
	bus := newTestBus()
	pool, err := NewNumberPool("readings", bus, WithRegistry[float64](NewRegistry()))
	if err != nil {
		t.Fatalf("new pool failed: %v", err)
	}
	defer pool.Close(context.Background())

	if got := pool.KeyOf(2.5); got != "2.5" {
		t.Fatalf("key mismatch: %v", got)
	}
	if err := pool.ReplaceContribution(context.Background(), 2.5); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	value, err := pool.GetContribution(context.Background(), "2.5")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != 2.5 {
		t.Fatalf("value mismatch: %v", value)
	}
}

func TestNewJSONPoolKeysByContent(t *testing.T) {
	bus := newTestBus()
	pool, err := NewJSONPool[scoreboard]("scores", bus, WithRegistry[scoreboard](NewRegistry()))
	if err != nil {
		t.Fatalf("new pool failed: %v", err)
	}
	defer pool.Close(context.Background())

	sent := scoreboard{Name: "alice", Score: 42}
	if err := pool.ReplaceContribution(context.Background(), sent); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	value, err := pool.GetContribution(context.Background(), pool.KeyOf(sent))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != sent {
		t.Fatalf("value mismatch: %+v", value)
	}
	if pool.KeyOf(sent) == pool.KeyOf(scoreboard{Name: "alice", Score: 43}) {
		t.Fatalf("content change should produce a new key")
	}
}
