package canonicalize

import (
	"testing"
)

func TestJCS_Sorting(t *testing.T) {
	input := map[string]any{
		"c": 3,
		"a": 1,
		"b": 2,
	}

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != `{"a":1,"b":2,"c":3}` {
		t.Errorf("got %s", string(b))
	}
}

func TestJCS_RecursiveSorting(t *testing.T) {
	input := map[string]any{
		"rock": map[string]any{
			"title":              "Ship",
			"definition_of_done": []any{"b", "a"},
		},
		"id": "ORD-1",
	}

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	// Array order is significant and preserved.
	expected := `{"id":"ORD-1","rock":{"definition_of_done":["b","a"],"title":"Ship"}}`
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{
		"notes": "<b>ship</b> & tell",
	}

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != `{"notes":"<b>ship</b> & tell"}` {
		t.Errorf("got %s", string(b))
	}
}

func TestBytes_WhitespaceAndNumbers(t *testing.T) {
	a, err := Bytes([]byte("{ \"week\" : 3.0,\n \"id\": \"P-1\" }"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Bytes([]byte(`{"id":"P-1","week":3}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Errorf("equivalent documents canonicalized differently: %s vs %s", a, b)
	}
}

func TestBytes_RejectsInvalidJSON(t *testing.T) {
	if _, err := Bytes([]byte(`{"id":`)); err == nil {
		t.Fatal("expected error for truncated document")
	}
}

func TestCanonicalHash_Stable(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"b": "world", "a": "hello"})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := CanonicalHash(map[string]any{"a": "hello", "b": "world"})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hashes differ for equivalent maps: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}
