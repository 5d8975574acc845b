package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tallyapp/tally-server/internal/catalog"
	"github.com/tallyapp/tally-server/internal/domain"
	domainerrors "github.com/tallyapp/tally-server/internal/errors"
	"github.com/tallyapp/tally-server/internal/store"
	"github.com/tallyapp/tally-server/internal/validation"
)

// ImporterConfig configures an Importer.
type ImporterConfig struct {
	// ChunkSize is used when ImportOptions.ChunkSize is zero.
	ChunkSize int
}

// Importer applies validated BackupFiles to a record store.
type Importer struct {
	validator *Validator
	options   *validation.Validator
	cfg       ImporterConfig
	logger    *slog.Logger
}

// NewImporter creates an Importer that re-validates every file with v.
func NewImporter(v *Validator, cfg ImporterConfig, logger *slog.Logger) *Importer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Importer{
		validator: v,
		options:   validation.New(),
		cfg:       cfg,
		logger:    logger,
	}
}

// Import validates file against identity and applies it to target following
// opts. Failures are reported in the result; Import never returns an error.
func (im *Importer) Import(ctx context.Context, identity domain.Identity, file *BackupFile, opts ImportOptions, target store.RecordStore) *ImportResult {
	start := time.Now()
	result := &ImportResult{
		DryRun:   opts.DryRun,
		Strategy: opts.Strategy,
		Summary:  newImportSummary(),
		Errors:   []string{},
	}
	finish := func() *ImportResult {
		result.Duration = time.Since(start)
		result.Success = len(result.Errors) == 0 && Total(result.Summary.Errors) == 0
		return result
	}

	if file == nil {
		result.Errors = append(result.Errors, "backup file is required")
		return finish()
	}
	if target == nil {
		result.Errors = append(result.Errors, "import target is required")
		return finish()
	}

	opts, err := im.prepareOptions(opts)
	result.Strategy = opts.Strategy
	if err != nil {
		result.Errors = append(result.Errors, describeOptionsError(err))
		return finish()
	}

	report := im.validator.Validate(file, identity)
	if !report.Valid {
		result.Errors = append(result.Errors, issueMessages(report)...)
		return finish()
	}

	run := &importRun{
		ctx:        ctx,
		target:     target,
		owner:      identity.UserID,
		opts:       opts,
		concurrent: opts.Concurrency > 1 && !opts.DryRun && store.AllowsConcurrentWrites(target),
		result:     result,
		remaining:  make(map[catalog.Kind]map[string]bool),
		unlisted:   make(map[catalog.Kind]bool),
		logger:     im.logger,
	}

	records := im.recordsToWrite(file.Data, result)

	im.logger.Info("import started",
		"user_id", identity.UserID,
		"strategy", opts.Strategy,
		"dry_run", opts.DryRun,
		"chunk_size", opts.ChunkSize,
		"concurrent", run.concurrent)

	if opts.Strategy == StrategyReplace {
		if !opts.DryRun && ctx.Err() == nil {
			// Once the first delete lands, the records have to be written back.
			run.ctx = context.WithoutCancel(ctx)
		}
		for _, entry := range catalog.Reverse() {
			if run.deleteKind(entry.Kind) {
				return finish()
			}
		}
	}
	for _, entry := range catalog.All() {
		if run.writeKind(entry.Kind, records[entry.Kind]) {
			return finish()
		}
	}

	finish()
	im.logger.Info("import complete",
		"user_id", identity.UserID,
		"success", result.Success,
		"created", Total(result.Summary.Created),
		"updated", Total(result.Summary.Updated),
		"deleted", Total(result.Summary.Deleted),
		"skipped", Total(result.Summary.Skipped),
		"errors", Total(result.Summary.Errors),
		"duration", result.Duration)
	return result
}

func (im *Importer) prepareOptions(opts ImportOptions) (ImportOptions, error) {
	if opts.Strategy == "" {
		opts.Strategy = StrategyMerge
	}
	if err := im.options.Validate(opts); err != nil {
		return opts, err
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = im.cfg.ChunkSize
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 1
	}
	return opts, nil
}

// recordsToWrite drops records whose references cannot be satisfied and
// counts them as skipped. Skips cascade: a record pointing at a skipped
// record is skipped too.
func (im *Importer) recordsToWrite(data BackupData, result *ImportResult) map[catalog.Kind][]domain.Record {
	out := make(map[catalog.Kind][]domain.Record, len(data))
	if im.validator.Policy().AllowExternalRefs {
		for _, kind := range catalog.Kinds() {
			out[kind] = data[kind]
		}
		return out
	}

	skip := make(map[catalog.Kind][]bool, len(data))
	for _, kind := range catalog.Kinds() {
		skip[kind] = make([]bool, len(data[kind]))
	}

	for changed := true; changed; {
		changed = false
		live := make(map[catalog.Kind]map[string]bool, len(data))
		for _, kind := range catalog.Kinds() {
			set := make(map[string]bool, len(data[kind]))
			for i, rec := range data[kind] {
				if !skip[kind][i] {
					set[rec.ID()] = true
				}
			}
			live[kind] = set
		}

		for _, entry := range catalog.All() {
			for i, rec := range data[entry.Kind] {
				if skip[entry.Kind][i] {
					continue
				}
				for _, fk := range entry.ForeignKeys {
					if ref := rec.Ref(fk.Field); ref != "" && !live[fk.Kind][ref] {
						skip[entry.Kind][i] = true
						changed = true
						break
					}
				}
			}
		}
	}

	for _, kind := range catalog.Kinds() {
		kept := make([]domain.Record, 0, len(data[kind]))
		for i, rec := range data[kind] {
			if skip[kind][i] {
				result.Summary.Skipped[kind]++
				continue
			}
			kept = append(kept, rec)
		}
		out[kind] = kept
	}
	return out
}

// rejectedImport builds the result for a document that failed validation
// before it could be decoded.
func rejectedImport(opts ImportOptions, report *ValidationReport, start time.Time) *ImportResult {
	if opts.Strategy == "" {
		opts.Strategy = StrategyMerge
	}
	return &ImportResult{
		Success:  false,
		DryRun:   opts.DryRun,
		Strategy: opts.Strategy,
		Summary:  newImportSummary(),
		Duration: time.Since(start),
		Errors:   issueMessages(report),
	}
}

func issueMessages(report *ValidationReport) []string {
	out := make([]string, 0, len(report.Issues))
	for _, issue := range report.Errors() {
		out = append(out, fmt.Sprintf("%s: %s", issue.Type, issue.Message))
	}
	return out
}

// importRun holds the state of a single Import call.
type importRun struct {
	ctx        context.Context
	target     store.RecordStore
	owner      string
	opts       ImportOptions
	concurrent bool
	logger     *slog.Logger

	mu     sync.Mutex
	result *ImportResult
	// remaining holds ids that survived the replace delete phase.
	remaining map[catalog.Kind]map[string]bool
	// unlisted marks kinds whose existing records could not be listed for
	// the delete phase.
	unlisted map[catalog.Kind]bool
}

// deleteKind removes every existing record of kind. It reports true when the
// context was canceled.
func (r *importRun) deleteKind(kind catalog.Kind) bool {
	if r.ctx.Err() != nil {
		r.cancel(kind, 0)
		return true
	}

	existing, err := r.target.List(r.ctx, kind, r.owner)
	if err != nil {
		r.fail(kind, 1, "list %s for delete: %v", kind, err)
		r.unlisted[kind] = true
		return false
	}
	ids := make([]string, 0, len(existing))
	for _, rec := range existing {
		ids = append(ids, rec.ID())
	}
	chunks := chunk(ids, r.opts.ChunkSize)

	canceled := r.schedule(kind, len(chunks), func(i int) int { return len(chunks[i]) }, func(i int) {
		part := chunks[i]
		if r.opts.DryRun {
			r.add(r.result.Summary.Deleted, kind, len(part))
			return
		}
		n, err := r.target.Delete(r.ctx, kind, r.owner, part)
		if err != nil {
			r.fail(kind, len(part), "delete %s chunk %d: %v", kind, i, err)
			r.keep(kind, part)
			return
		}
		r.add(r.result.Summary.Deleted, kind, n)
	})
	if !canceled {
		r.logger.Debug("deleted kind", "kind", kind, "deleted", r.result.Summary.Deleted[kind], "dry_run", r.opts.DryRun)
	}
	return canceled
}

// writeKind upserts records of kind, classifying each as created or updated.
// It reports true when the context was canceled.
func (r *importRun) writeKind(kind catalog.Kind, records []domain.Record) bool {
	if r.ctx.Err() != nil {
		r.cancel(kind, len(records))
		return true
	}
	if len(records) == 0 {
		return false
	}

	existing := r.remaining[kind]
	if r.opts.Strategy != StrategyReplace || r.unlisted[kind] {
		current, err := r.target.List(r.ctx, kind, r.owner)
		if err != nil {
			r.fail(kind, 1, "list %s: %v", kind, err)
			return false
		}
		existing = make(map[string]bool, len(current))
		for _, rec := range current {
			existing[rec.ID()] = true
		}
	}

	type classified struct {
		records          []domain.Record
		created, updated int
	}
	seen := make(map[string]bool, len(existing)+len(records))
	for id := range existing {
		seen[id] = true
	}
	parts := chunk(records, r.opts.ChunkSize)
	jobs := make([]classified, len(parts))
	for i, part := range parts {
		jobs[i].records = part
		for _, rec := range part {
			id := rec.ID()
			if seen[id] {
				jobs[i].updated++
			} else {
				jobs[i].created++
				seen[id] = true
			}
		}
	}

	canceled := r.schedule(kind, len(jobs), func(i int) int { return len(jobs[i].records) }, func(i int) {
		job := jobs[i]
		if !r.opts.DryRun {
			if _, err := r.target.Upsert(r.ctx, kind, r.owner, job.records); err != nil {
				r.fail(kind, len(job.records), "upsert %s chunk %d: %v", kind, i, err)
				return
			}
		}
		r.add(r.result.Summary.Created, kind, job.created)
		r.add(r.result.Summary.Updated, kind, job.updated)
	})
	if !canceled {
		r.logger.Info("imported kind",
			"kind", kind,
			"created", r.result.Summary.Created[kind],
			"updated", r.result.Summary.Updated[kind],
			"skipped", r.result.Summary.Skipped[kind],
			"errors", r.result.Summary.Errors[kind],
			"dry_run", r.opts.DryRun)
	}
	return canceled
}

// schedule runs work for chunks 0..n-1, sequentially or, for concurrent runs,
// through an errgroup bounded by the configured concurrency. Chunks not
// started before the context is canceled are counted as errors.
func (r *importRun) schedule(kind catalog.Kind, n int, size func(int) int, work func(int)) bool {
	if !r.concurrent {
		for i := range n {
			if r.ctx.Err() != nil {
				left := 0
				for j := i; j < n; j++ {
					left += size(j)
				}
				r.cancel(kind, left)
				return true
			}
			work(i)
		}
		return false
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		canceled int
		stopped  bool
	)
	g.SetLimit(r.opts.Concurrency)
	for i := range n {
		g.Go(func() error {
			if r.ctx.Err() != nil {
				mu.Lock()
				canceled += size(i)
				stopped = true
				mu.Unlock()
				return nil
			}
			work(i)
			return nil
		})
	}
	_ = g.Wait()

	if stopped {
		r.cancel(kind, canceled)
		return true
	}
	return false
}

func (r *importRun) add(counter map[catalog.Kind]int, kind catalog.Kind, n int) {
	r.mu.Lock()
	counter[kind] += n
	r.mu.Unlock()
}

func (r *importRun) fail(kind catalog.Kind, n int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.result.Summary.Errors[kind] += n
	r.result.Errors = append(r.result.Errors, msg)
	r.mu.Unlock()
	r.logger.Warn("import chunk failed", "kind", kind, "records", n, "error", msg)
}

func (r *importRun) cancel(kind catalog.Kind, unprocessed int) {
	r.mu.Lock()
	r.result.Summary.Errors[kind] += unprocessed
	r.result.Errors = append(r.result.Errors, fmt.Sprintf("import canceled during %s: %v", kind, context.Cause(r.ctx)))
	r.mu.Unlock()
}

func (r *importRun) keep(kind catalog.Kind, ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.remaining[kind]
	if set == nil {
		set = make(map[string]bool, len(ids))
		r.remaining[kind] = set
	}
	for _, id := range ids {
		set[id] = true
	}
}

func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// describeOptionsError flattens a validation error into one line.
func describeOptionsError(err error) string {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		if fields, ok := domainErr.Details.(map[string]string); ok && len(fields) > 0 {
			names := make([]string, 0, len(fields))
			for name := range fields {
				names = append(names, name)
			}
			sort.Strings(names)
			parts := make([]string, 0, len(names))
			for _, name := range names {
				parts = append(parts, name+" "+fields[name])
			}
			return "invalid import options: " + strings.Join(parts, "; ")
		}
	}
	return "invalid import options: " + err.Error()
}
