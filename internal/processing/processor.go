// Package processing runs segment operations: fetch a record's source video,
// cut the requested range, publish the clip and record it in the ledger.
package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vidprofile/vidprofile/internal/blobstore"
	"github.com/vidprofile/vidprofile/internal/catalog"
	"github.com/vidprofile/vidprofile/internal/clip"
	"github.com/vidprofile/vidprofile/internal/ledger"
	"github.com/vidprofile/vidprofile/internal/logging"
)

// OutputPrefix is the key prefix every published clip lives under.
const OutputPrefix = "outputs"

// Store is the record access the processor needs. *catalog.Service
// implements it.
type Store interface {
	Lock(ctx context.Context, recordID string) (func(), error)
	GetRecord(ctx context.Context, id string) (*catalog.VideoRecord, error)
	SaveRecord(ctx context.Context, rec *catalog.VideoRecord) error
	BeginProcessing(ctx context.Context, rec *catalog.VideoRecord) error
	SetStatus(ctx context.Context, rec *catalog.VideoRecord, status catalog.RecordStatus) error
	ResolvePrompt(ctx context.Context, rec *catalog.VideoRecord, explicit, templateID string) (string, error)
	Log(ctx context.Context, recordID string, level catalog.LogLevel, message string, details map[string]any)
}

// SegmentRequest describes one cut. A nil TargetIndex appends a new ledger
// entry; otherwise the entry at that index is filled in.
type SegmentRequest struct {
	Start       float64 `json:"start_time"`
	End         float64 `json:"end_time"`
	Prompt      string  `json:"prompt"`
	TemplateID  string  `json:"template_id"`
	TargetIndex *int    `json:"target_index,omitempty"`
}

// LedgerUpdate describes a successful segment operation.
type LedgerUpdate struct {
	RecordID string               `json:"record_id"`
	Index    int                  `json:"index"`
	Appended bool                 `json:"appended"`
	Clamped  bool                 `json:"clamped"`
	Entry    ledger.Entry         `json:"entry"`
	Status   catalog.RecordStatus `json:"status"`
	Progress int                  `json:"progress"`
}

// Outcome is the result of one entry in a ProcessPending run.
type Outcome struct {
	EntryID string        `json:"entry_id"`
	Index   int           `json:"index"`
	Update  *LedgerUpdate `json:"update,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type Config struct {
	ScratchDir     string
	MaxExtractions int64
	BlobRetries    int
	RetryBackoff   time.Duration
}

func DefaultConfig() Config {
	return Config{
		ScratchDir:     os.TempDir(),
		MaxExtractions: 2,
		BlobRetries:    2,
		RetryBackoff:   500 * time.Millisecond,
	}
}

type Processor struct {
	store   Store
	gateway blobstore.Gateway
	engine  clip.Engine
	cfg     Config
	sem     *semaphore.Weighted
	logger  *slog.Logger
	now     func() time.Time
}

func New(store Store, gateway blobstore.Gateway, engine clip.Engine, cfg Config, logger *slog.Logger) *Processor {
	if cfg.MaxExtractions < 1 {
		cfg.MaxExtractions = 1
	}
	if cfg.BlobRetries < 0 {
		cfg.BlobRetries = 0
	}
	return &Processor{
		store:   store,
		gateway: gateway,
		engine:  engine,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxExtractions),
		logger:  logging.WithComponent(logging.OrDiscard(logger), "processing"),
		now:     time.Now,
	}
}

// ProcessSegment cuts one range out of the record's source video and
// records it in the ledger. Validation failures are returned before
// anything changes. Once the record lock is held the operation runs to
// completion even if ctx is cancelled.
func (p *Processor) ProcessSegment(ctx context.Context, recordID string, req SegmentRequest) (*LedgerUpdate, error) {
	if err := clip.ValidateRange(req.Start, req.End); err != nil {
		return nil, fmt.Errorf("%w: %w", catalog.ErrValidation, err)
	}

	unlock, err := p.store.Lock(ctx, recordID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	work := context.WithoutCancel(ctx)

	rec, err := p.loadProcessable(work, recordID)
	if err != nil {
		return nil, err
	}

	explicit := req.Prompt
	if req.TargetIndex != nil {
		target, err := rec.Ledger().At(*req.TargetIndex)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(explicit) == "" && req.TemplateID == "" {
			explicit = target.Prompt
		}
	}
	text, err := p.store.ResolvePrompt(work, rec, explicit, req.TemplateID)
	if err != nil {
		return nil, err
	}

	return p.process(work, rec, req, text)
}

// ProcessPending processes, in ledger order, every entry that has a time
// range but no output yet. It stops at the first failure other than an
// invalid range.
func (p *Processor) ProcessPending(ctx context.Context, recordID string) ([]Outcome, error) {
	unlock, err := p.store.Lock(ctx, recordID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	work := context.WithoutCancel(ctx)

	rec, err := p.loadProcessable(work, recordID)
	if err != nil {
		return nil, err
	}

	var pending []ledger.Entry
	for _, e := range rec.Ledger().Entries() {
		if e.HasRange() && !e.HasOutput() {
			pending = append(pending, e)
		}
	}

	outcomes := make([]Outcome, 0, len(pending))
	for _, e := range pending {
		index := rec.Ledger().IndexOf(e.ID)
		out := Outcome{EntryID: e.ID, Index: index}
		if index < 0 {
			continue
		}

		update, err := p.process(work, rec, SegmentRequest{
			Start:       *e.StartTime,
			End:         *e.EndTime,
			Prompt:      e.Prompt,
			TargetIndex: &index,
		}, e.Prompt)
		out.Update = update
		if err != nil {
			out.Error = err.Error()
			outcomes = append(outcomes, out)
			if errors.Is(err, ErrInvalidRange) {
				continue
			}
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (p *Processor) loadProcessable(ctx context.Context, recordID string) (*catalog.VideoRecord, error) {
	rec, err := p.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !rec.HasSource() {
		return nil, fmt.Errorf("%w: record %s has no source video", catalog.ErrValidation, recordID)
	}
	return rec, nil
}

// process runs the pipeline for a validated request. The caller holds the
// record lock.
func (p *Processor) process(ctx context.Context, rec *catalog.VideoRecord, req SegmentRequest, promptText string) (*LedgerUpdate, error) {
	log := logging.WithRecordID(p.logger, rec.ID)
	index := rec.Ledger().TotalCount()
	entryID := ledger.NewEntryID()
	if req.TargetIndex != nil {
		index = *req.TargetIndex
		target, err := rec.Ledger().At(index)
		if err != nil {
			return nil, err
		}
		entryID = target.ID
	}
	source := blobstore.Ref{Bucket: rec.SourceBucket, Key: rec.SourceKey}
	details := map[string]any{
		"index":      index,
		"entry_id":   entryID,
		"start_time": req.Start,
		"end_time":   req.End,
		"prompt":     promptText,
		"source":     source.String(),
	}

	prior := rec.Status
	if err := p.store.BeginProcessing(ctx, rec); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	p.store.Log(ctx, rec.ID, catalog.LevelInfo, "segment processing started", details)
	log.Info("segment processing started", "index", index, "start", req.Start, "end", req.End)

	fail := func(kind, cause error) error {
		details["error"] = cause.Error()
		if err := p.store.SetStatus(ctx, rec, catalog.StatusFailed); err != nil {
			log.Error("failed to mark record failed", "error", err)
		}
		p.store.Log(ctx, rec.ID, catalog.LevelError, "segment "+kind.Error(), details)
		log.Error("segment processing failed", "kind", kind.Error(), "index", index, "error", cause)
		return &Error{Kind: kind, RecordID: rec.ID, Index: index, Err: cause}
	}

	scratch, err := os.MkdirTemp(p.cfg.ScratchDir, "segment-*")
	if err != nil {
		return nil, fail(ErrFetchFailed, fmt.Errorf("create scratch dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn("failed to remove scratch dir", "path", scratch, "error", err)
		}
	}()

	srcPath := filepath.Join(scratch, "source"+path.Ext(rec.SourceKey))
	err = withRetry(ctx, log, "fetch", p.cfg.BlobRetries, p.cfg.RetryBackoff, func() error {
		return p.gateway.Fetch(ctx, source, srcPath)
	})
	if err != nil {
		return nil, fail(ErrFetchFailed, err)
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fail(ErrExtractFailed, err)
	}
	start, end, outPath, err := p.extract(ctx, srcPath, scratch, req)
	p.sem.Release(1)
	if errors.Is(err, clip.ErrInvalidRange) {
		details["error"] = err.Error()
		if serr := p.store.SetStatus(ctx, rec, prior); serr != nil {
			log.Error("failed to restore record status", "status", prior, "error", serr)
		}
		p.store.Log(ctx, rec.ID, catalog.LevelWarning, "segment range is outside the source video", details)
		log.Warn("segment range rejected", "index", index, "error", err)
		return nil, &Error{Kind: ErrInvalidRange, RecordID: rec.ID, Index: index, Err: err}
	}
	if err != nil {
		return nil, fail(ErrExtractFailed, err)
	}
	details["start_time"], details["end_time"] = start, end

	key := OutputKey(rec.ID, rec.SourceKey, entryID, start, end)
	details["output_key"] = key
	err = withRetry(ctx, log, "publish", p.cfg.BlobRetries, p.cfg.RetryBackoff, func() error {
		return p.gateway.Publish(ctx, outPath, blobstore.Ref{Bucket: rec.SourceBucket, Key: key})
	})
	if err != nil {
		return nil, fail(ErrPublishFailed, err)
	}

	update, err := p.record(ctx, rec, req, index, entryID, promptText, key, start, end)
	if err != nil {
		details["error"] = err.Error()
		if serr := p.store.SetStatus(ctx, rec, catalog.StatusFailed); serr != nil {
			log.Error("failed to mark record failed", "error", serr)
		}
		// The clip stays published but no ledger entry points at it.
		p.store.Log(ctx, rec.ID, catalog.LevelError, "segment published but not recorded", details)
		log.Error("failed to record published segment", "key", key, "error", err)
		return nil, err
	}

	p.store.Log(ctx, rec.ID, catalog.LevelSuccess, "segment published", details)
	log.Info("segment published", "index", update.Index, "key", key, "status", update.Status, "progress", update.Progress)
	return update, nil
}

// extract probes the source, clamps the requested range to its duration and
// cuts the clip into dir.
func (p *Processor) extract(ctx context.Context, srcPath, dir string, req SegmentRequest) (float64, float64, string, error) {
	duration, err := p.engine.ProbeDuration(ctx, srcPath)
	if err != nil {
		return 0, 0, "", err
	}
	start, end, err := clip.Clamp(req.Start, req.End, duration)
	if err != nil {
		return start, end, "", err
	}
	outPath := filepath.Join(dir, "segment.mp4")
	if err := p.engine.Extract(ctx, srcPath, outPath, start, end); err != nil {
		return start, end, "", err
	}
	return start, end, outPath, nil
}

// record writes the completed entry and the derived record status.
func (p *Processor) record(ctx context.Context, rec *catalog.VideoRecord, req SegmentRequest, index int, entryID, promptText, key string, start, end float64) (*LedgerUpdate, error) {
	now := p.now().UTC()
	l := rec.Ledger()
	appended := req.TargetIndex == nil

	if appended {
		var err error
		index, err = l.Append(ledger.Entry{
			ID:          entryID,
			Prompt:      promptText,
			StartTime:   ledger.Float(start),
			EndTime:     ledger.Float(end),
			OutputRef:   ledger.String(key),
			ProcessedAt: &now,
			Status:      ledger.StatusCompleted,
		})
		if err != nil {
			return nil, fmt.Errorf("append ledger entry: %w", err)
		}
	} else {
		err := l.UpdateAt(index, ledger.Patch{
			Prompt:      ledger.String(promptText),
			StartTime:   ledger.Float(start),
			EndTime:     ledger.Float(end),
			OutputRef:   ledger.String(key),
			ProcessedAt: &now,
			Status:      ledger.StatusPtr(ledger.StatusCompleted),
		})
		if err != nil {
			return nil, fmt.Errorf("update ledger entry: %w", err)
		}
	}

	rec.DeriveStatus()
	if err := p.store.SaveRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("save record: %w", err)
	}

	entry, _ := l.At(index)
	return &LedgerUpdate{
		RecordID: rec.ID,
		Index:    index,
		Appended: appended,
		Clamped:  start != req.Start || end != req.End,
		Entry:    entry,
		Status:   rec.Status,
		Progress: l.ProgressPercentage(),
	}, nil
}

// OutputKey derives the published object key for a cut. The entry id keeps
// keys unique within a record even after deletions shift ledger indices.
func OutputKey(recordID, sourceKey, entryID string, start, end float64) string {
	base := path.Base(sourceKey)
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "source"
	}
	return fmt.Sprintf("%s/%s/%s_segment_%s_%s_%s.mp4",
		OutputPrefix, recordID, base, entryID, formatTime(start), formatTime(end))
}

func formatTime(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
