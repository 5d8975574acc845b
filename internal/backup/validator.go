package backup

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/blang/semver/v4"

	"github.com/tallyapp/tally-server/internal/catalog"
	"github.com/tallyapp/tally-server/internal/domain"
)

// Policy tunes validation.
type Policy struct {
	// AllowExternalRefs accepts foreign keys that do not resolve inside the document.
	AllowExternalRefs bool
	// SampleSize is the number of records per kind copied into the preview.
	SampleSize int
	// MaxSizeBytes bounds ValidateBytes input. Zero means MaxBackupSizeBytes.
	MaxSizeBytes int64
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{SampleSize: DefaultSampleSize, MaxSizeBytes: MaxBackupSizeBytes}
}

// Validator checks candidate backup documents.
type Validator struct {
	policy    Policy
	supported semver.Version
}

// NewValidator creates a Validator.
func NewValidator(policy Policy) *Validator {
	if policy.SampleSize < 0 {
		policy.SampleSize = 0
	}
	if policy.MaxSizeBytes <= 0 {
		policy.MaxSizeBytes = MaxBackupSizeBytes
	}
	return &Validator{
		policy:    policy,
		supported: semver.MustParse(SchemaVersion),
	}
}

// Policy returns the validator's policy.
func (v *Validator) Policy() Policy {
	return v.policy
}

// requiredFields are the top-level members every document must carry.
var requiredFields = []string{
	"app", "schema_version", "exported_at", "owner", "counts", "checksum", "meta", "data",
}

// ValidateBytes enforces the size limit and parses raw before validating it.
func (v *Validator) ValidateBytes(raw []byte, identity domain.Identity) *ValidationReport {
	if int64(len(raw)) > v.policy.MaxSizeBytes {
		r := newReport()
		r.add(LevelError, IssueSchema, "backup exceeds maximum size", map[string]any{
			"size_bytes": len(raw),
			"max_bytes":  v.policy.MaxSizeBytes,
		})
		return r.finish()
	}
	if len(raw) == 0 {
		r := newReport()
		r.add(LevelError, IssueSchema, "backup document is empty", nil)
		return r.finish()
	}

	tree, err := parseTree(raw)
	if err != nil {
		r := newReport()
		r.add(LevelError, IssueSchema, "backup is not valid JSON", map[string]any{"error": err.Error()})
		return r.finish()
	}
	return v.validateTree(tree, identity)
}

// Validate checks candidate, which may be a *BackupFile, raw JSON bytes, or an
// already-decoded JSON object. Objects should be decoded with UseNumber so
// amounts keep their literal text. It never panics: every failure becomes an issue.
func (v *Validator) Validate(candidate any, identity domain.Identity) (report *ValidationReport) {
	defer func() {
		if rec := recover(); rec != nil {
			r := newReport()
			r.add(LevelError, IssueSchema, "backup could not be inspected", map[string]any{"error": fmt.Sprint(rec)})
			report = r.finish()
		}
	}()

	switch c := candidate.(type) {
	case nil:
		r := newReport()
		r.add(LevelError, IssueSchema, "backup document is empty", nil)
		return r.finish()
	case []byte:
		return v.ValidateBytes(c, identity)
	case json.RawMessage:
		return v.ValidateBytes(c, identity)
	case map[string]any:
		// Re-decode so every number is a json.Number, as the checksum
		// and count checks expect.
		tree, err := toTree(c)
		if err != nil {
			r := newReport()
			r.add(LevelError, IssueSchema, "backup cannot be encoded as JSON", map[string]any{"error": err.Error()})
			return r.finish()
		}
		out := v.validateTree(tree, identity)
		if hasFloat(c) && slices.ContainsFunc(out.Errors(), func(i ValidationIssue) bool { return i.Type == IssueChecksum }) {
			out.Issues = append(out.Issues, ValidationIssue{
				Level:   LevelWarning,
				Type:    IssueChecksum,
				Message: "numbers were decoded as float64 and may have lost their original literals",
			})
		}
		return out
	}

	tree, err := toTree(candidate)
	if err != nil {
		r := newReport()
		r.add(LevelError, IssueSchema, "backup cannot be encoded as JSON", map[string]any{"error": err.Error()})
		return r.finish()
	}
	return v.validateTree(tree, identity)
}

// hasFloat reports whether v holds a float64 anywhere.
func hasFloat(v any) bool {
	switch t := v.(type) {
	case float64:
		return true
	case map[string]any:
		for _, e := range t {
			if hasFloat(e) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if hasFloat(e) {
				return true
			}
		}
	}
	return false
}

func (v *Validator) validateTree(tree any, identity domain.Identity) *ValidationReport {
	r := newReport()

	doc, ok := tree.(map[string]any)
	if !ok {
		r.add(LevelError, IssueSchema, "backup must be a JSON object", nil)
		return r.finish()
	}

	r.report.Metadata = metadataFromTree(doc)
	data, _ := doc["data"].(map[string]any)

	v.checkSchema(r, doc)
	records := v.checkStructure(r, doc, data)
	v.checkChecksum(r, doc, data)
	v.checkIntegrity(r, records)
	v.checkPermission(r, doc, records, identity)
	v.fillPreview(r, records)

	return r.finish()
}

func (v *Validator) checkSchema(r *reportBuilder, doc map[string]any) {
	for _, field := range requiredFields {
		if _, ok := doc[field]; !ok {
			r.add(LevelError, IssueSchema, "missing required field "+field, map[string]any{"field": field})
		}
	}

	objectFields := []string{"app", "owner", "counts", "checksum", "meta", "data"}
	for _, field := range objectFields {
		if val, ok := doc[field]; ok {
			if _, isObj := val.(map[string]any); !isObj {
				r.add(LevelError, IssueSchema, field+" must be an object", map[string]any{"field": field})
			}
		}
	}

	if owner, ok := doc["owner"].(map[string]any); ok {
		if id, _ := owner["user_id"].(string); id == "" {
			r.add(LevelError, IssueSchema, "owner.user_id is required", map[string]any{"field": "owner.user_id"})
		}
	}

	if checksum, ok := doc["checksum"].(map[string]any); ok {
		for _, field := range []string{"algo", "value"} {
			if s, _ := checksum[field].(string); s == "" {
				r.add(LevelError, IssueSchema, "checksum."+field+" is required", map[string]any{"field": "checksum." + field})
			}
		}
	}

	if raw, ok := doc["exported_at"]; ok {
		s, _ := raw.(string)
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			r.add(LevelError, IssueSchema, "exported_at must be an RFC 3339 timestamp", map[string]any{"found": raw})
		}
	}

	raw, ok := doc["schema_version"]
	if !ok {
		return
	}
	s, _ := raw.(string)
	found, err := semver.ParseTolerant(s)
	if err != nil {
		r.add(LevelError, IssueSchema, "schema_version is not a valid semantic version", map[string]any{
			"found":     raw,
			"supported": SchemaVersion,
		})
		return
	}
	switch {
	case found.Major != v.supported.Major:
		r.add(LevelError, IssueSchema, "unsupported schema version", map[string]any{
			"found":     found.String(),
			"supported": SchemaVersion,
		})
	case found.Minor > v.supported.Minor:
		r.add(LevelWarning, IssueSchema, "backup was written by a newer schema; unknown fields are ignored", map[string]any{
			"found":     found.String(),
			"supported": SchemaVersion,
		})
	}
}

// checkStructure verifies the data section and counts, and returns the
// well-formed records per catalog kind (objects carrying an id).
func (v *Validator) checkStructure(r *reportBuilder, doc, data map[string]any) map[catalog.Kind][]domain.Record {
	records := make(map[catalog.Kind][]domain.Record, len(catalog.Kinds()))
	if data == nil {
		return records
	}
	counts, _ := doc["counts"].(map[string]any)

	for _, kind := range catalog.Kinds() {
		raw, present := data[string(kind)]
		if !present {
			r.add(LevelError, IssueSchema, fmt.Sprintf("data.%s is missing", kind), map[string]any{"kind": kind})
			continue
		}
		arr, isArr := raw.([]any)
		if !isArr {
			r.add(LevelError, IssueSchema, fmt.Sprintf("data.%s must be an array", kind), map[string]any{"kind": kind})
			continue
		}

		var notObjects, missingID []int
		kept := make([]domain.Record, 0, len(arr))
		for i, elem := range arr {
			obj, isObj := elem.(map[string]any)
			if !isObj {
				notObjects = append(notObjects, i)
				continue
			}
			rec := domain.Record(obj)
			if rec.ID() == "" {
				missingID = append(missingID, i)
				continue
			}
			kept = append(kept, rec)
		}
		records[kind] = kept

		if len(notObjects) > 0 {
			r.add(LevelError, IssueSchema, fmt.Sprintf("data.%s contains non-object entries", kind), map[string]any{
				"kind": kind, "count": len(notObjects), "first_index": notObjects[0],
			})
		}
		if len(missingID) > 0 {
			r.add(LevelError, IssueSchema, fmt.Sprintf("data.%s contains records without an id", kind), map[string]any{
				"kind": kind, "count": len(missingID), "first_index": missingID[0],
			})
		}

		if counts == nil {
			continue
		}
		declaredRaw, ok := counts[string(kind)]
		if !ok {
			r.add(LevelError, IssueSchema, fmt.Sprintf("counts.%s is missing", kind), map[string]any{
				"kind": kind, "actual": len(arr),
			})
			continue
		}
		declared, ok := toInt(declaredRaw)
		if !ok {
			r.add(LevelError, IssueSchema, fmt.Sprintf("counts.%s must be a non-negative integer", kind), map[string]any{
				"kind": kind, "declared": declaredRaw,
			})
			continue
		}
		if declared != len(arr) {
			r.add(LevelError, IssueSchema, fmt.Sprintf("count mismatch for %s", kind), map[string]any{
				"kind": kind, "declared": declared, "actual": len(arr),
			})
		}
	}

	var unknown []string
	for name := range data {
		if !catalog.IsKnown(catalog.Kind(name)) {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		r.add(LevelWarning, IssueSchema, fmt.Sprintf("unknown entity kind %s is ignored", name), map[string]any{"kind": name})
	}

	return records
}

func (v *Validator) checkChecksum(r *reportBuilder, doc, data map[string]any) {
	checksum, ok := doc["checksum"].(map[string]any)
	if !ok || data == nil {
		return
	}
	algo, _ := checksum["algo"].(string)
	declared, _ := checksum["value"].(string)
	if algo == "" || declared == "" {
		return
	}

	payload, err := canonicalJSON(data)
	if err != nil {
		r.add(LevelError, IssueChecksum, "data cannot be canonicalized", map[string]any{"error": err.Error()})
		return
	}
	actual, err := Digest(algo, payload)
	if err != nil {
		r.add(LevelError, IssueChecksum, err.Error(), map[string]any{
			"algo":      algo,
			"supported": SupportedAlgorithms(),
		})
		return
	}
	if actual != declared {
		r.add(LevelError, IssueChecksum, "checksum mismatch", map[string]any{
			"algo":     algo,
			"expected": declared,
			"actual":   actual,
		})
	}
}

func (v *Validator) checkIntegrity(r *reportBuilder, records map[catalog.Kind][]domain.Record) {
	for _, kind := range catalog.Kinds() {
		seen := make(map[string]bool, len(records[kind]))
		reported := make(map[string]bool)
		for _, rec := range records[kind] {
			id := rec.ID()
			if seen[id] && !reported[id] {
				reported[id] = true
				r.add(LevelWarning, IssueIntegrity, fmt.Sprintf("duplicate id in %s", kind), map[string]any{
					"kind": kind, "id": id,
				})
			}
			seen[id] = true
		}
	}

	if v.policy.AllowExternalRefs {
		return
	}
	for _, d := range FindDanglingRefs(records) {
		r.add(LevelWarning, IssueIntegrity, fmt.Sprintf("%s %s references missing %s", d.Kind, d.ID, d.RefKind), map[string]any{
			"kind":     d.Kind,
			"id":       d.ID,
			"field":    d.Field,
			"ref_kind": d.RefKind,
			"ref_id":   d.RefID,
		})
	}
}

func (v *Validator) checkPermission(r *reportBuilder, doc map[string]any, records map[catalog.Kind][]domain.Record, identity domain.Identity) {
	if identity.IsZero() {
		r.add(LevelError, IssuePermission, "no authenticated identity", nil)
		return
	}

	if owner, ok := doc["owner"].(map[string]any); ok {
		userID, _ := owner["user_id"].(string)
		phone, _ := owner["phone"].(string)
		if !identity.Matches(domain.Identity{UserID: userID, Phone: phone}) {
			r.add(LevelError, IssuePermission, "backup belongs to a different owner", map[string]any{"field": "owner"})
		}
	}

	for _, kind := range catalog.Kinds() {
		foreign := 0
		for _, rec := range records[kind] {
			owner := rec.Ref(domain.FieldUserID)
			if owner != "" && owner != identity.UserID {
				foreign++
			}
		}
		if foreign > 0 {
			r.add(LevelError, IssuePermission, fmt.Sprintf("%s contains records of another user", kind), map[string]any{
				"kind": kind, "count": foreign,
			})
		}
	}
}

func (v *Validator) fillPreview(r *reportBuilder, records map[catalog.Kind][]domain.Record) {
	p := &r.report.Preview
	for _, kind := range catalog.Kinds() {
		recs := records[kind]
		p.RecordCounts[kind] = len(recs)
		p.TotalRecords += len(recs)

		n := min(v.policy.SampleSize, len(recs))
		sample := make([]domain.Record, 0, n)
		for _, rec := range recs[:n] {
			sample = append(sample, rec.Clone())
		}
		p.SampleData[kind] = sample
	}
}

// DanglingRef is a foreign key that does not resolve inside a document.
type DanglingRef struct {
	Kind    catalog.Kind
	ID      string
	Field   string
	RefKind catalog.Kind
	RefID   string
}

// FindDanglingRefs returns every non-empty foreign key in records whose target
// is absent, in catalog order.
func FindDanglingRefs[D ~map[catalog.Kind][]domain.Record](records D) []DanglingRef {
	ids := make(map[catalog.Kind]map[string]bool, len(records))
	for kind, recs := range records {
		set := make(map[string]bool, len(recs))
		for _, rec := range recs {
			if id := rec.ID(); id != "" {
				set[id] = true
			}
		}
		ids[kind] = set
	}

	var out []DanglingRef
	for kind, recs := range records {
		entry, ok := catalog.Lookup(kind)
		if !ok {
			continue
		}
		for _, rec := range recs {
			for _, fk := range entry.ForeignKeys {
				ref := rec.Ref(fk.Field)
				if ref == "" || ids[fk.Kind][ref] {
					continue
				}
				out = append(out, DanglingRef{
					Kind:    kind,
					ID:      rec.ID(),
					Field:   fk.Field,
					RefKind: fk.Kind,
					RefID:   ref,
				})
			}
		}
	}
	// Refs of one kind are contiguous, so a stable sort keeps record order.
	sort.SliceStable(out, func(i, j int) bool {
		return catalog.Position(out[i].Kind) < catalog.Position(out[j].Kind)
	})
	return out
}

// metadataFromTree decodes the metadata members that are well-formed and
// leaves the rest zero.
func metadataFromTree(doc map[string]any) *BackupMetadata {
	md := &BackupMetadata{Counts: make(map[catalog.Kind]int)}

	if app, ok := doc["app"].(map[string]any); ok {
		md.App.Name, _ = app["name"].(string)
		md.App.Version, _ = app["version"].(string)
	}
	md.SchemaVersion, _ = doc["schema_version"].(string)
	if s, ok := doc["exported_at"].(string); ok {
		md.ExportedAt, _ = time.Parse(time.RFC3339, s)
	}
	if owner, ok := doc["owner"].(map[string]any); ok {
		md.Owner.UserID, _ = owner["user_id"].(string)
		md.Owner.Phone, _ = owner["phone"].(string)
	}
	if counts, ok := doc["counts"].(map[string]any); ok {
		for name, raw := range counts {
			if n, ok := toInt(raw); ok {
				md.Counts[catalog.Kind(name)] = n
			}
		}
	}
	if checksum, ok := doc["checksum"].(map[string]any); ok {
		md.Checksum.Algo, _ = checksum["algo"].(string)
		md.Checksum.Value, _ = checksum["value"].(string)
	}
	if meta, ok := doc["meta"].(map[string]any); ok {
		md.Meta.GeneratedBy, _ = meta["generated_by"].(string)
		md.Meta.ExportID, _ = meta["export_id"].(string)
		md.Meta.Notes, _ = meta["notes"].(string)
	}
	return md
}

// toInt accepts non-negative integral JSON numbers.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.Atoi(n.String())
		return i, err == nil && i >= 0
	case float64:
		i := int(n)
		return i, float64(i) == n && i >= 0
	case int:
		return n, n >= 0
	default:
		return 0, false
	}
}

// reportBuilder accumulates issues for a single validation run.
type reportBuilder struct {
	report *ValidationReport
}

func newReport() *reportBuilder {
	return &reportBuilder{report: &ValidationReport{
		Issues: []ValidationIssue{},
		Preview: Preview{
			RecordCounts: make(map[catalog.Kind]int),
			SampleData:   make(map[catalog.Kind][]domain.Record),
		},
	}}
}

func (b *reportBuilder) add(level IssueLevel, typ IssueType, msg string, details map[string]any) {
	b.report.Issues = append(b.report.Issues, ValidationIssue{
		Level:   level,
		Type:    typ,
		Message: msg,
		Details: details,
	})
}

func (b *reportBuilder) finish() *ValidationReport {
	b.report.Valid = len(b.report.Errors()) == 0
	return b.report
}
