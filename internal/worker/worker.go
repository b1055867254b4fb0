// Package worker processes one trigger folder per invocation: it converts
// every file in the folder to PDF, uploads the outputs, consumes the
// trigger object, and reports the folder's fate with exactly one marker.
// Success markers and unprocessed markers are mutually exclusive for a
// given trigger folder; the marker write is guarded so that not even the
// deadline watchdog can produce both.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/docviewer/docpdf-pipeline/internal/convert"
	"github.com/docviewer/docpdf-pipeline/internal/keys"
	"github.com/docviewer/docpdf-pipeline/internal/objstore"
)

// deadlineMargin is how long before the invocation deadline the watchdog
// degrades the folder. Lambda gives no grace after the deadline; the
// margin must cover one marker put with retries.
const deadlineMargin = 15 * time.Second

// Config carries the worker's bucket layout and limits.
type Config struct {
	MainBucket     string
	MetadataBucket string
	TriggerBucket  string

	// OutputFolder replaces the category segment in output keys.
	OutputFolder string

	// WritePath is the scratch root for downloads and tool output.
	WritePath string

	// Concurrency bounds parallel file conversions. Zero means NumCPU.
	Concurrency int
}

// Worker converts the files of trigger folders.
type Worker struct {
	store    objstore.Store
	registry *convert.Registry
	cfg      Config
}

// New creates a Worker. Zero-value limits in cfg are defaulted.
func New(store objstore.Store, registry *convert.Registry, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.WritePath == "" {
		cfg.WritePath = os.TempDir()
	}
	return &Worker{store: store, registry: registry, cfg: cfg}
}

// Result reports the outcome of one trigger folder.
type Result struct {
	Folder    keys.TriggerFolder
	Total     int
	Converted int
	// AllConverted is true when the success marker was written.
	AllConverted bool
}

// ProcessTrigger handles the trigger object at triggerKey end to end.
// Individual file failures degrade the folder to unprocessed but are not
// returned as errors; only infrastructure faults (listing, marker writes)
// surface here.
func (w *Worker) ProcessTrigger(ctx context.Context, triggerKey string) (Result, error) {
	folder, err := keys.ParseTriggerFolder(triggerKey)
	if err != nil {
		return Result{}, err
	}
	lg := log.With().Str("triggerFolder", folder.Key()).Logger()

	// marked guards the single marker write. Whoever flips it first, the
	// normal completion path or the deadline watchdog, owns the folder's fate.
	var marked atomic.Bool
	stopWatchdog := w.watchDeadline(ctx, folder, &marked)
	defer stopWatchdog()

	files, err := w.store.List(ctx, w.cfg.MainBucket, folder.Key()+"/")
	if err != nil {
		w.markUnprocessed(ctx, folder, &marked)
		return Result{Folder: folder}, fmt.Errorf("list trigger folder %s: %w", folder.Key(), err)
	}

	// Scratch layout mirrors the trigger key, so a re-invocation reuses
	// the same deterministic local paths.
	scratch := filepath.Join(w.cfg.WritePath, filepath.FromSlash(folder.Key()))
	if err := os.MkdirAll(scratch, 0755); err != nil {
		w.markUnprocessed(ctx, folder, &marked)
		return Result{Folder: folder}, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	var converted atomic.Int64
	var mu sync.Mutex
	var failed []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, fileKey := range files {
		fileKey := fileKey
		g.Go(func() error {
			if w.convertFile(gctx, scratch, fileKey) {
				converted.Add(1)
				return nil
			}
			mu.Lock()
			failed = append(failed, fileKey)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Group functions never return errors; a non-nil here is context
		// cancellation, which the marker decision below handles.
		lg.Warn().Err(err).Msg("Conversion pool interrupted")
	}

	// The trigger object is consumed regardless of outcome; the markers,
	// not the trigger's presence, carry the folder's state from here on.
	if err := w.store.Delete(ctx, w.cfg.TriggerBucket, triggerKey); err != nil {
		lg.Warn().Err(err).Msg("Could not delete consumed trigger object")
	}

	res := Result{Folder: folder, Total: len(files), Converted: int(converted.Load())}
	if len(failed) == 0 && ctx.Err() == nil {
		if marked.CompareAndSwap(false, true) {
			if err := w.store.PutMarker(ctx, w.cfg.MetadataBucket, folder.SuccessKey()); err != nil {
				// The trigger object is already consumed, so without a
				// terminal marker the document wedges. The guard is ours,
				// degrade the folder directly.
				lg.Error().Err(err).Msg("Could not write success marker, degrading folder")
				w.putUnprocessed(ctx, folder)
				return res, fmt.Errorf("put success marker: %w", err)
			}
			res.AllConverted = true
			lg.Info().Int("files", res.Total).Msg("Trigger folder fully converted")
		}
		return res, nil
	}

	lg.Warn().Strs("failedFiles", failed).Int("converted", res.Converted).Int("total", res.Total).
		Msg("Trigger folder degraded to unprocessed")
	w.markUnprocessed(ctx, folder, &marked)
	return res, nil
}

// convertFile converts one object and uploads the result. It reports
// converted true/false and never fails the folder by itself.
func (w *Worker) convertFile(ctx context.Context, scratch, fileKey string) bool {
	conv, ok := w.registry.For(fileKey)
	if !ok {
		log.Warn().Str("file", fileKey).Msg("No converter registered for extension")
		return false
	}
	outKey := keys.OutputKey(fileKey, w.cfg.OutputFolder)

	// Converters that work object-to-object move the bytes themselves.
	if oc, ok := conv.(convert.ObjectConverter); ok {
		outcome := oc.ConvertObject(ctx, fileKey, outKey)
		logOutcome(fileKey, outcome)
		return outcome.OK()
	}

	localIn := filepath.Join(scratch, "in", filepath.Base(fileKey))
	localOut := filepath.Join(scratch, "out", filepath.Base(outKey))
	if err := os.MkdirAll(filepath.Dir(localOut), 0755); err != nil {
		log.Error().Err(err).Str("file", fileKey).Msg("Scratch layout failed")
		return false
	}
	if err := w.store.Download(ctx, w.cfg.MainBucket, fileKey, localIn); err != nil {
		log.Error().Err(err).Str("file", fileKey).Msg("Download failed")
		return false
	}

	outcome := conv.Convert(ctx, localIn, localOut)
	logOutcome(fileKey, outcome)
	if !outcome.OK() {
		return false
	}
	if err := w.store.Upload(ctx, w.cfg.MainBucket, outKey, localOut); err != nil {
		log.Error().Err(err).Str("file", fileKey).Str("outputKey", outKey).Msg("Upload failed")
		return false
	}
	return true
}

func logOutcome(fileKey string, o convert.Outcome) {
	switch o.Code {
	case convert.Converted:
		log.Debug().Str("file", fileKey).Msg("Converted")
	case convert.ConvertedWithWarnings:
		log.Warn().Err(o.Err).Str("file", fileKey).Msg("Converted with warnings")
	default:
		log.Error().Err(o.Err).Str("file", fileKey).Msg("Conversion failed")
	}
}

// markUnprocessed writes the folder's unprocessed marker if no marker has
// been written yet.
func (w *Worker) markUnprocessed(ctx context.Context, folder keys.TriggerFolder, marked *atomic.Bool) {
	if !marked.CompareAndSwap(false, true) {
		return
	}
	w.putUnprocessed(ctx, folder)
}

// putUnprocessed writes the unprocessed marker on a detached context so a
// cancelled invocation context cannot suppress the folder's terminal record.
func (w *Worker) putUnprocessed(ctx context.Context, folder keys.TriggerFolder) {
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.store.PutMarker(putCtx, w.cfg.MainBucket, folder.UnprocessedKey()); err != nil {
		log.Error().Err(err).Str("key", folder.UnprocessedKey()).Msg("Could not write unprocessed marker")
	}
}

// watchDeadline arms a timer that degrades the folder to unprocessed
// shortly before the invocation deadline, so an out-of-time folder still
// leaves a terminal record instead of silently wedging its document.
func (w *Worker) watchDeadline(ctx context.Context, folder keys.TriggerFolder, marked *atomic.Bool) func() {
	deadline, ok := ctx.Deadline()
	if !ok {
		return func() {}
	}
	wait := time.Until(deadline) - deadlineMargin
	if wait < 0 {
		wait = 0
	}
	timer := time.AfterFunc(wait, func() {
		log.Warn().Str("triggerFolder", folder.Key()).Msg("Deadline watchdog fired, degrading folder")
		w.markUnprocessed(ctx, folder, marked)
	})
	return func() { timer.Stop() }
}
