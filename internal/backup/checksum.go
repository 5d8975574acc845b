package backup

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/tallyapp/tally-server/internal/domain"
)

// Supported checksum algorithms.
const (
	AlgoSHA256     = "sha256"
	AlgoSHA512     = "sha512"
	AlgoBLAKE2b256 = "blake2b-256"
)

// SupportedAlgorithms lists the accepted checksum algorithm names.
func SupportedAlgorithms() []string {
	return []string{AlgoSHA256, AlgoSHA512, AlgoBLAKE2b256}
}

// UnsupportedAlgorithmError is returned by Digest for an unknown algorithm name.
type UnsupportedAlgorithmError struct {
	Algo string
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported checksum algorithm %q", e.Algo)
}

func newHash(algo string) (hash.Hash, error) {
	switch strings.ToLower(strings.TrimSpace(algo)) {
	case AlgoSHA256:
		return sha256.New(), nil
	case AlgoSHA512:
		return sha512.New(), nil
	case AlgoBLAKE2b256:
		return blake2b.New256(nil)
	default:
		return nil, &UnsupportedAlgorithmError{Algo: algo}
	}
}

// Digest hashes payload with algo and returns the lowercase hex digest.
func Digest(algo string, payload []byte) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Canonicalize renders data as canonical JSON: kinds sorted, records within a
// kind sorted by id, object keys sorted, compact, no HTML escaping, and
// numbers kept as their literal text.
func Canonicalize(data BackupData) ([]byte, error) {
	tree, err := toTree(data)
	if err != nil {
		return nil, err
	}
	return canonicalJSON(tree)
}

// ComputeChecksum canonicalizes data and digests it with algo.
func ComputeChecksum(algo string, data BackupData) (Checksum, error) {
	payload, err := Canonicalize(data)
	if err != nil {
		return Checksum{}, fmt.Errorf("canonicalize: %w", err)
	}
	value, err := Digest(algo, payload)
	if err != nil {
		return Checksum{}, err
	}
	return Checksum{Algo: algo, Value: value}, nil
}

// canonicalJSON renders a decoded JSON tree (the output of toTree or parseTree)
// in canonical form. Arrays directly under the top-level object are sorted by
// record id; nothing else is reordered.
func canonicalJSON(tree any) ([]byte, error) {
	if obj, ok := tree.(map[string]any); ok {
		sorted := make(map[string]any, len(obj))
		for kind, v := range obj {
			if arr, ok := v.([]any); ok {
				v = sortRecordsByID(arr)
			}
			sorted[kind] = v
		}
		tree = sorted
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding/json writes map keys in sorted order.
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("encode canonical json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// sortRecordsByID returns a copy of arr stably sorted by the id of each element.
// Elements that are not objects, or lack an id, sort as an empty id.
func sortRecordsByID(arr []any) []any {
	out := make([]any, len(arr))
	copy(out, arr)
	sort.SliceStable(out, func(i, j int) bool {
		return elementID(out[i]) < elementID(out[j])
	})
	return out
}

func elementID(v any) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := domain.RefString(obj[domain.FieldID])
	return id
}

// toTree converts any JSON-marshalable value into a generic tree with numbers
// preserved as json.Number.
func toTree(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return parseTree(raw)
}

// parseTree decodes exactly one JSON value from raw, keeping number literals.
func parseTree(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return tree, nil
}
