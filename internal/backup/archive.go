package backup

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/tallyapp/tally-server/internal/backup/stream"
	"github.com/tallyapp/tally-server/internal/catalog"
)

// Format is the on-disk encoding of a backup document.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatZip  Format = "zip"
)

// Extension returns the file name suffix for the format.
func (f Format) Extension() string {
	if f == FormatZip {
		return ".tally.zip"
	}
	return ".tally.json"
}

// Archive layout.
const (
	manifestPath = "manifest.json"
	dataDirPath  = "data/"
	dataFileExt  = ".jsonl"
)

var zipMagic = []byte("PK\x03\x04")

// IsArchive reports whether raw looks like a zip archive.
func IsArchive(raw []byte) bool {
	return bytes.HasPrefix(raw, zipMagic)
}

// EncodeJSON writes file as an indented JSON document.
func EncodeJSON(w io.Writer, file *BackupFile) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(file)
}

// DecodeFile parses a JSON backup document, keeping record numbers as literals.
func DecodeFile(raw []byte) (*BackupFile, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var file BackupFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	return &file, nil
}

// WriteArchive writes file as a zip containing manifest.json and one
// data/<kind>.jsonl per kind. It returns the number of records written.
func WriteArchive(w io.Writer, file *BackupFile) (int, error) {
	zw := zip.NewWriter(w)

	mw, err := zw.Create(manifestPath)
	if err != nil {
		return 0, fmt.Errorf("create manifest: %w", err)
	}
	enc := json.NewEncoder(mw)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(file.BackupMetadata); err != nil {
		return 0, fmt.Errorf("write manifest: %w", err)
	}

	written := 0
	for _, kind := range archiveKinds(file.Data) {
		sw, err := stream.NewWriter(zw, dataDirPath+string(kind)+dataFileExt)
		if err != nil {
			return written, fmt.Errorf("create %s: %w", kind, err)
		}
		for _, rec := range file.Data[kind] {
			if err := sw.Write(rec); err != nil {
				return written + sw.Count(), fmt.Errorf("write %s: %w", kind, err)
			}
		}
		written += sw.Count()
	}

	return written, zw.Close()
}

// archiveKinds lists the kinds in data: catalog kinds first in catalog order,
// then unknown kinds sorted by name.
func archiveKinds(data BackupData) []catalog.Kind {
	kinds := make([]catalog.Kind, 0, len(data))
	for kind := range data {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool {
		pi, pj := catalog.Position(kinds[i]), catalog.Position(kinds[j])
		switch {
		case pi < 0 && pj < 0:
			return kinds[i] < kinds[j]
		case pi < 0 || pj < 0:
			return pj < 0
		}
		return pi < pj
	})
	return kinds
}

// ArchiveToDocument converts a zip archive into the equivalent JSON document.
// The uncompressed content is bounded by maxBytes.
func ArchiveToDocument(raw []byte, maxBytes int64) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var declared uint64
	for _, f := range zr.File {
		declared += f.UncompressedSize64
	}
	if declared > uint64(maxBytes) {
		return nil, fmt.Errorf("archive content exceeds %d bytes", maxBytes)
	}

	rc, err := stream.OpenFile(zr, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", manifestPath, err)
	}
	manifestRaw, err := io.ReadAll(io.LimitReader(rc, maxBytes+1))
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	tree, err := parseTree(manifestRaw)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	doc, ok := tree.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("manifest must be a JSON object")
	}

	data := make(map[string]any)
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, dataDirPath) || !strings.HasSuffix(f.Name, dataFileExt) {
			continue
		}
		kind := strings.TrimSuffix(strings.TrimPrefix(f.Name, dataDirPath), dataFileExt)

		frc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		records := make([]any, 0)
		reader := stream.NewReader[any](readCloser{io.LimitReader(frc, maxBytes), frc})
		for rec, err := range reader.All() {
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", f.Name, err)
			}
			records = append(records, rec)
		}
		data[kind] = records
	}
	doc["data"] = data

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
