package stream

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"testing"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := NewWriter(zw, "data/banks.jsonl")
	if err != nil {
		t.Fatal(err)
	}

	records := []map[string]any{
		{"id": "b1", "name": "First <&>"},
		{"id": "b2", "balance": json.Number("1050.00")},
		{"id": "b3", "name": "Third"},
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			t.Fatal(err)
		}
	}
	if w.Count() != 3 {
		t.Errorf("Count() = %d, want 3", w.Count())
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	rc, err := OpenFile(zr, "data/banks.jsonl")
	if err != nil {
		t.Fatal(err)
	}

	var got []map[string]any
	for rec, err := range NewReader[map[string]any](rc).All() {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, rec)
	}

	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	if got[0]["name"] != "First <&>" {
		t.Errorf("name = %v, want unescaped text", got[0]["name"])
	}
	if got[1]["balance"] != json.Number("1050.00") {
		t.Errorf("balance = %#v, want literal 1050.00", got[1]["balance"])
	}
}

func TestWriter_DoesNotEscapeHTML(t *testing.T) {
	var buf bytes.Buffer
	w := newWriter(&buf)
	if err := w.Write(map[string]string{"note": "a<b"}); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "{\"note\":\"a<b\"}\n" {
		t.Errorf("got %q", got)
	}
}

func TestOpenFile_NotFound(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.Close()

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := OpenFile(zr, "nonexistent.jsonl"); err != ErrFileNotFound {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestReader_ContinuesOnParseError(t *testing.T) {
	jsonl := `{"id":"1","name":"Good"}
{bad json}

{"id":"2","name":"Also Good"}
`
	rc := io.NopCloser(bytes.NewReader([]byte(jsonl)))
	reader := NewReader[map[string]any](rc)

	var good []map[string]any
	var errors int

	for rec, err := range reader.All() {
		if err != nil {
			errors++
			continue
		}
		good = append(good, rec)
	}

	if len(good) != 2 {
		t.Errorf("got %d good records, want 2", len(good))
	}
	if errors != 1 {
		t.Errorf("got %d errors, want 1", errors)
	}
}
