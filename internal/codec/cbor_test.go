package codec

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
)

type notice struct {
	ID      uuid.UUID         `cbor:"id"`
	Kind    string            `cbor:"kind"`
	At      time.Time         `cbor:"at"`
	Context map[string]string `cbor:"context,omitempty"`
}

func TestRoundTripAndDeterminism(t *testing.T) {
	in := notice{
		ID:      uuid.New(),
		Kind:    "claimed",
		At:      time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
		Context: map[string]string{"b": "2", "a": "1", "c": "3"},
	}

	first, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("encoding is not deterministic")
	}

	var out notice
	if err := Unmarshal(first, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID != in.ID || out.Kind != in.Kind || !out.At.Equal(in.At) || out.Context["c"] != "3" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}
