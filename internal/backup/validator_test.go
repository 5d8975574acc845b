package backup_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyapp/tally-server/internal/backup"
	"github.com/tallyapp/tally-server/internal/catalog"
	"github.com/tallyapp/tally-server/internal/domain"
)

func newValidator() *backup.Validator {
	return backup.NewValidator(backup.DefaultPolicy())
}

func issuesOf(report *backup.ValidationReport, level backup.IssueLevel, typ backup.IssueType) []backup.ValidationIssue {
	var out []backup.ValidationIssue
	for _, issue := range report.Issues {
		if issue.Level == level && issue.Type == typ {
			out = append(out, issue)
		}
	}
	return out
}

func TestValidate_RoundTrip(t *testing.T) {
	file := exportFrom(t, sampleData(owner.UserID))

	report := newValidator().Validate(file, owner)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Issues)

	// Same result through the serialized form.
	report = newValidator().ValidateBytes(marshal(t, file), owner)
	assert.True(t, report.Valid, "issues: %v", report.Issues)
	assert.Empty(t, report.Issues)
}

func TestValidate_Preview(t *testing.T) {
	data := sampleData(owner.UserID)
	for i := range 5 {
		data[catalog.Banks] = append(data[catalog.Banks], domain.Record{"id": "bx" + string(rune('a'+i)), "user_id": owner.UserID})
	}
	file := exportFrom(t, data)

	report := newValidator().Validate(file, owner)
	require.True(t, report.Valid)

	assert.Equal(t, 15, report.Preview.TotalRecords)
	assert.Equal(t, 6, report.Preview.RecordCounts[catalog.Banks])
	assert.Len(t, report.Preview.SampleData[catalog.Banks], backup.DefaultSampleSize)
	assert.Len(t, report.Preview.SampleData[catalog.Categories], 2)
	assert.NotNil(t, report.Preview.SampleData[catalog.Profiles])

	require.NotNil(t, report.Metadata)
	assert.Equal(t, owner.UserID, report.Metadata.Owner.UserID)
	assert.Equal(t, file.Meta.ExportID, report.Metadata.Meta.ExportID)
	assert.Equal(t, 6, report.Metadata.Counts[catalog.Banks])
}

func TestValidate_ChecksumIgnoresMetadataOnlyChanges(t *testing.T) {
	file := exportFrom(t, sampleData(owner.UserID))
	file.ExportedAt = file.ExportedAt.Add(-72 * time.Hour)
	file.Meta.Notes = "moved to new laptop"

	report := newValidator().Validate(file, owner)
	assert.True(t, report.Valid, "issues: %v", report.Issues)
}

func TestValidate_ChecksumDetectsDataChange(t *testing.T) {
	file := exportFrom(t, sampleData(owner.UserID))
	file.Data[catalog.Suppliers][0]["name"] = "Tampered"

	report := newValidator().Validate(file, owner)
	assert.False(t, report.Valid)

	issues := issuesOf(report, backup.LevelError, backup.IssueChecksum)
	require.Len(t, issues, 1)
	assert.Equal(t, "checksum mismatch", issues[0].Message)
	assert.Equal(t, file.Checksum.Value, issues[0].Details["expected"])
}

func TestValidate_ChecksumDetectsNumberLiteralChange(t *testing.T) {
	file := exportFrom(t, sampleData(owner.UserID))
	raw := strings.Replace(string(marshal(t, file)), `"amount":1500.00`, `"amount":1500.0`, 1)
	require.Contains(t, raw, `"amount":1500.0,`)

	report := newValidator().ValidateBytes([]byte(raw), owner)
	assert.Len(t, issuesOf(report, backup.LevelError, backup.IssueChecksum), 1)
}

func TestValidate_UnsupportedChecksumAlgorithm(t *testing.T) {
	file := exportFrom(t, sampleData(owner.UserID))
	file.Checksum.Algo = "md5"

	report := newValidator().Validate(file, owner)
	assert.False(t, report.Valid)
	issues := issuesOf(report, backup.LevelError, backup.IssueChecksum)
	require.Len(t, issues, 1)
	assert.Equal(t, "md5", issues[0].Details["algo"])
}

func TestValidate_CountMismatch(t *testing.T) {
	file := exportFrom(t, sampleData(owner.UserID))
	file.Counts[catalog.Transactions] = 7

	report := newValidator().Validate(file, owner)
	assert.False(t, report.Valid)

	issues := issuesOf(report, backup.LevelError, backup.IssueSchema)
	require.Len(t, issues, 1)
	assert.Equal(t, catalog.Transactions, issues[0].Details["kind"])
	assert.Equal(t, 7, issues[0].Details["declared"])
	assert.Equal(t, 2, issues[0].Details["actual"])
}

func TestValidate_OwnershipGate(t *testing.T) {
	file := exportFrom(t, sampleData(owner.UserID))

	tests := []struct {
		name     string
		identity domain.Identity
		valid    bool
	}{
		{"same owner", owner, true},
		{"phone formatting differs", domain.Identity{UserID: owner.UserID, Phone: "+55 (11) 99999-0000"}, true},
		{"other user", domain.Identity{UserID: "user-2", Phone: owner.Phone}, false},
		{"other phone", domain.Identity{UserID: owner.UserID, Phone: "+5511888880000"}, false},
		{"missing phone", domain.Identity{UserID: owner.UserID}, false},
		{"anonymous", domain.Identity{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := newValidator().Validate(file, tt.identity)
			assert.Equal(t, tt.valid, report.Valid)
			if !tt.valid {
				assert.NotEmpty(t, issuesOf(report, backup.LevelError, backup.IssuePermission))
			}
		})
	}
}

func TestValidate_RecordsOfAnotherUser(t *testing.T) {
	data := sampleData(owner.UserID)
	data[catalog.Banks] = append(data[catalog.Banks], domain.Record{"id": "b9", "user_id": "intruder"})
	file := exportFrom(t, data)

	report := newValidator().Validate(file, owner)
	assert.False(t, report.Valid)

	issues := issuesOf(report, backup.LevelError, backup.IssuePermission)
	require.Len(t, issues, 1)
	assert.Equal(t, catalog.Banks, issues[0].Details["kind"])
	assert.Equal(t, 1, issues[0].Details["count"])
}

func TestValidate_SchemaVersion(t *testing.T) {
	tests := []struct {
		version string
		valid   bool
		level   backup.IssueLevel
	}{
		{"1.0.0", true, ""},
		{"1.0.7", true, ""},
		{"1.4.0", true, backup.LevelWarning},
		{"v1.0", true, ""},
		{"2.0.0", false, backup.LevelError},
		{"0.9.0", false, backup.LevelError},
		{"latest", false, backup.LevelError},
	}

	file := exportFrom(t, sampleData(owner.UserID))
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			file.SchemaVersion = tt.version
			report := newValidator().Validate(file, owner)
			assert.Equal(t, tt.valid, report.Valid)

			schema := append(
				issuesOf(report, backup.LevelError, backup.IssueSchema),
				issuesOf(report, backup.LevelWarning, backup.IssueSchema)...)
			if tt.level == "" {
				assert.Empty(t, schema)
				return
			}
			require.Len(t, schema, 1)
			assert.Equal(t, tt.level, schema[0].Level)
			assert.Equal(t, backup.SchemaVersion, schema[0].Details["supported"])
		})
	}
}

func TestValidate_MissingFields(t *testing.T) {
	report := newValidator().Validate(map[string]any{}, owner)

	assert.False(t, report.Valid)
	assert.Len(t, issuesOf(report, backup.LevelError, backup.IssueSchema), 8)
	assert.NotNil(t, report.Preview.RecordCounts)
	assert.NotNil(t, report.Preview.SampleData)
}

func TestValidate_StructureErrors(t *testing.T) {
	file := exportFrom(t, sampleData(owner.UserID))
	doc := toDocument(t, file)
	data := doc["data"].(map[string]any)
	data["banks"] = "not an array"
	data["categories"] = []any{map[string]any{"name": "no id"}, "scalar"}
	delete(data, "profiles")

	report := newValidator().Validate(doc, owner)
	assert.False(t, report.Valid)

	var kinds []any
	for _, issue := range issuesOf(report, backup.LevelError, backup.IssueSchema) {
		kinds = append(kinds, issue.Details["kind"])
	}
	assert.Contains(t, kinds, catalog.Banks)
	assert.Contains(t, kinds, catalog.Categories)
	assert.Contains(t, kinds, catalog.Profiles)
}

func TestValidate_UnknownKindIsWarning(t *testing.T) {
	file := exportFrom(t, sampleData(owner.UserID))
	file.Data["invoices"] = []domain.Record{{"id": "i1"}}
	var err error
	file.Checksum, err = backup.ComputeChecksum(backup.AlgoSHA256, file.Data)
	require.NoError(t, err)

	report := newValidator().Validate(file, owner)
	assert.True(t, report.Valid, "issues: %v", report.Issues)

	warnings := issuesOf(report, backup.LevelWarning, backup.IssueSchema)
	require.Len(t, warnings, 1)
	assert.Equal(t, "invoices", warnings[0].Details["kind"])
}

func TestValidate_DanglingReferences(t *testing.T) {
	data := sampleData(owner.UserID)
	data[catalog.Suppliers][0]["category_id"] = "c-missing"
	file := exportFrom(t, data)

	report := newValidator().Validate(file, owner)
	assert.True(t, report.Valid, "dangling references are warnings")

	warnings := issuesOf(report, backup.LevelWarning, backup.IssueIntegrity)
	require.Len(t, warnings, 1)
	assert.Equal(t, catalog.Suppliers, warnings[0].Details["kind"])
	assert.Equal(t, "category_id", warnings[0].Details["field"])
	assert.Equal(t, "c-missing", warnings[0].Details["ref_id"])

	lenient := backup.NewValidator(backup.Policy{AllowExternalRefs: true})
	report = lenient.Validate(file, owner)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Issues)
}

func TestFindDanglingRefs_CatalogOrder(t *testing.T) {
	data := backup.BackupData{
		catalog.Transactions: {
			{"id": "t1", "bank_account_id": "ba-missing"},
			{"id": "t2", "category_id": "c1", "account_payable_id": "ap-missing"},
		},
		catalog.Categories: {
			{"id": "c1"},
			{"id": "c2", "parent_id": "c-missing"},
		},
		"invoices": {{"id": "i1", "category_id": "c-missing"}},
	}

	refs := backup.FindDanglingRefs(data)
	require.Len(t, refs, 3)
	assert.Equal(t, backup.DanglingRef{Kind: catalog.Categories, ID: "c2", Field: "parent_id", RefKind: catalog.Categories, RefID: "c-missing"}, refs[0])
	assert.Equal(t, "t1", refs[1].ID)
	assert.Equal(t, "t2", refs[2].ID)
	assert.Equal(t, catalog.AccountsPayable, refs[2].RefKind)
}

func TestValidate_DuplicateIDs(t *testing.T) {
	file := exportFrom(t, sampleData(owner.UserID))
	file.Data[catalog.Banks] = append(file.Data[catalog.Banks], domain.Record{"id": "b1", "user_id": owner.UserID})
	file.Counts[catalog.Banks] = 2
	var err error
	file.Checksum, err = backup.ComputeChecksum(backup.AlgoSHA256, file.Data)
	require.NoError(t, err)

	report := newValidator().Validate(file, owner)
	assert.True(t, report.Valid)
	warnings := issuesOf(report, backup.LevelWarning, backup.IssueIntegrity)
	require.Len(t, warnings, 1)
	assert.Equal(t, "b1", warnings[0].Details["id"])
}

func TestValidate_NeverPanics(t *testing.T) {
	inputs := []any{
		nil,
		42,
		"just a string",
		[]any{1, 2, 3},
		map[string]any{"data": "x", "counts": 5, "owner": []any{}},
		map[string]any{"data": map[string]any{"banks": []any{nil}}, "checksum": map[string]any{"algo": 1}},
		make(chan int),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			report := newValidator().Validate(in, owner)
			require.NotNil(t, report)
			assert.False(t, report.Valid)
			assert.NotNil(t, report.Preview.RecordCounts)
		})
	}
}

func TestValidateBytes_Guards(t *testing.T) {
	small := backup.NewValidator(backup.Policy{MaxSizeBytes: 16})

	report := small.ValidateBytes([]byte(`{"padding":"this is longer than sixteen bytes"}`), owner)
	assert.False(t, report.Valid)
	issues := issuesOf(report, backup.LevelError, backup.IssueSchema)
	require.Len(t, issues, 1)
	assert.Equal(t, int64(16), issues[0].Details["max_bytes"])

	for _, raw := range []string{"", "{not json", `{"a":1} trailing`, `{"a":1}]`} {
		report := newValidator().ValidateBytes([]byte(raw), owner)
		assert.False(t, report.Valid, "input %q", raw)
		assert.NotEmpty(t, issuesOf(report, backup.LevelError, backup.IssueSchema), "input %q", raw)
	}
}

func TestValidate_AcceptsRawMessage(t *testing.T) {
	file := exportFrom(t, sampleData(owner.UserID))
	report := newValidator().Validate(json.RawMessage(marshal(t, file)), owner)
	assert.True(t, report.Valid, "issues: %v", report.Issues)
}

func TestValidate_MapDecodedWithoutUseNumber(t *testing.T) {
	data := sampleData(owner.UserID)
	data[catalog.BankAccounts][0]["balance"] = json.Number("10250.5")
	data[catalog.AccountsPayable][0]["amount"] = json.Number("1500")
	data[catalog.AccountsReceivable][0]["amount"] = json.Number("320.1")
	data[catalog.Transactions][0]["amount"] = json.Number("-1500")
	data[catalog.Transactions][1]["amount"] = json.Number("320.1")
	file := exportFrom(t, data)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(marshal(t, file), &doc))

	report := newValidator().Validate(doc, owner)
	assert.True(t, report.Valid, "issues: %v", report.Issues)
	assert.Empty(t, report.Issues)

	// Trailing zeros do not survive float64, so the mismatch is explained.
	lossy := exportFrom(t, sampleData(owner.UserID))
	doc = nil
	require.NoError(t, json.Unmarshal(marshal(t, lossy), &doc))

	report = newValidator().Validate(doc, owner)
	assert.False(t, report.Valid)
	require.NotEmpty(t, issuesOf(report, backup.LevelError, backup.IssueChecksum))
	warnings := issuesOf(report, backup.LevelWarning, backup.IssueChecksum)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "float64")
}
