// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

func TestMarshalDeterministic(t *testing.T) {
	// Maps with the same entries must encode to identical bytes
	// regardless of insertion order — checksums over encoded
	// metadata depend on this.
	a := map[string]int{"alpha": 1, "beta": 2, "gamma": 3}
	b := map[string]int{"gamma": 3, "alpha": 1, "beta": 2}

	encodedA, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal(a): %v", err)
	}
	encodedB, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal(b): %v", err)
	}
	if !bytes.Equal(encodedA, encodedB) {
		t.Errorf("same map encoded differently:\n%x\n%x", encodedA, encodedB)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	type record struct {
		CreatedAt time.Time `json:"created_at"`
	}

	original := record{CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded record
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("timestamp changed in round trip: got %v, want %v",
			decoded.CreatedAt, original.CreatedAt)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	type v1 struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
		Note string `json:"note"`
	}
	type v0 struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}

	data, err := Marshal(v1{Name: "x", Size: 5, Note: "from the future"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded v0
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if decoded.Name != "x" || decoded.Size != 5 {
		t.Errorf("decoded = %+v, want Name=x Size=5", decoded)
	}
}
