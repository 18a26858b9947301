// Package mirror implements the mirroring engine: three cooperating periodic
// tasks (mirror, partial integrity check, full integrity check) that keep a
// relational store of galleryinfo records and a document store of derived
// info records converged with a remote gallery index.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	sglog "github.com/sourcegraph/log"
	"golang.org/x/sync/errgroup"

	"github.com/sunpetal/galmirror"
)

// Concurrency budgets double as batch sizes: the pipeline splits ids into
// chunks of the budget and keeps at most that many chunks in flight. Each
// chunk is processed sequentially inside its worker.
const (
	DefaultRemoteConcurrency = 50
	DefaultLocalConcurrency  = 25

	// DefaultPartialCheckRange bounds the scope of one partial integrity
	// pass. Reserved; the current passes cover all document-store ids.
	DefaultPartialCheckRange = 100
)

// Task is the mirroring engine. One Task is constructed per process; its
// Start* drivers run as sibling goroutines and coordinate only through the
// Status flags. The single mutex covers status and the skip-list, which is
// coarse on purpose: the mutual-exclusion invariant is easy to reason about
// under one lock, and the flags are advisory rather than correctness-bearing.
type Task struct {
	upstream galmirror.GalleryinfoSource
	gallery  galmirror.GalleryinfoStore
	infos    galmirror.InfoStore

	RemoteConcurrency int
	LocalConcurrency  int
	PartialCheckRange int

	// RunAsOnce makes every driver perform exactly one iteration and return.
	// Used for tests and one-shot invocations.
	RunAsOnce bool

	logger sglog.Logger

	mu      sync.Mutex
	status  Status
	skipIDs map[galmirror.ID]struct{}
}

// NewTask constructs the engine around the three repository handles.
func NewTask(logger sglog.Logger, upstream galmirror.GalleryinfoSource, gallery galmirror.GalleryinfoStore, infos galmirror.InfoStore, runAsOnce bool) *Task {
	t := &Task{
		upstream: upstream,
		gallery:  gallery,
		infos:    infos,

		RemoteConcurrency: DefaultRemoteConcurrency,
		LocalConcurrency:  DefaultLocalConcurrency,
		PartialCheckRange: DefaultPartialCheckRange,
		RunAsOnce:         runAsOnce,

		logger:  logger,
		skipIDs: map[galmirror.ID]struct{}{},
	}
	t.status.IndexFiles = append([]string(nil), upstream.IndexFiles()...)
	return t
}

// Status returns a copy of the current status snapshot.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status
	s.IndexFiles = append([]string(nil), t.status.IndexFiles...)
	return s
}

// SkipIDs returns the ids currently excluded from integrity passes, sorted.
func (t *Task) SkipIDs() []galmirror.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]galmirror.ID, 0, len(t.skipIDs))
	for id := range t.skipIDs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (t *Task) addSkipID(id galmirror.ID) {
	t.mu.Lock()
	t.skipIDs[id] = struct{}{}
	metricSkipListSize.Set(float64(len(t.skipIDs)))
	t.mu.Unlock()
}

func (t *Task) clearSkipIDs() {
	t.mu.Lock()
	t.skipIDs = map[galmirror.ID]struct{}{}
	metricSkipListSize.Set(0)
	t.mu.Unlock()
}

// withFlag sets one of the status flags around f. The flag is cleared even
// when f fails so a failed phase cannot wedge the other drivers' gates shut.
func (t *Task) withFlag(set func(*Status, bool), f func() error) error {
	t.mu.Lock()
	set(&t.status, true)
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		set(&t.status, false)
		t.mu.Unlock()
	}()
	return f()
}

// splitIDs splits ids into contiguous chunks of length size; the terminal
// chunk is shorter when len(ids) is not a multiple of size. The chunks alias
// the input slice.
func splitIDs(ids []galmirror.ID, size int) [][]galmirror.ID {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	batches := make([][]galmirror.ID, 0, (len(ids)+size-1)/size)
	for len(ids) > size {
		batches = append(batches, ids[:size:size])
		ids = ids[size:]
	}
	return append(batches, ids)
}

type idsFunc func(ctx context.Context) ([]galmirror.ID, error)

// differences returns the ids source yields that target does not, as a set
// materialised in ascending order. The sort keeps batching reproducible for
// diagnostics; no domain ordering is implied.
func differences(ctx context.Context, source, target idsFunc) ([]galmirror.ID, error) {
	src, err := source(ctx)
	if err != nil {
		return nil, err
	}
	dst, err := target(ctx)
	if err != nil {
		return nil, err
	}

	have := make(map[galmirror.ID]struct{}, len(dst))
	for _, id := range dst {
		have[id] = struct{}{}
	}

	missing := make(map[galmirror.ID]struct{})
	for _, id := range src {
		if _, ok := have[id]; !ok {
			missing[id] = struct{}{}
		}
	}

	diff := make([]galmirror.ID, 0, len(missing))
	for id := range missing {
		diff = append(diff, id)
	}
	slices.Sort(diff)
	return diff, nil
}

// preprocess fetches id and forces the returned record's ID to the id that
// was requested. The upstream index is known to answer some requests with the
// record of an adjacent entry (observed on 1783616 <-> 1669497); keying the
// mirror by the upstream-claimed id would leave the requested id permanently
// missing and the difference computation would refetch it forever. Not-found
// propagates unchanged.
func (t *Task) preprocess(ctx context.Context, fetch func(context.Context, galmirror.ID) (*galmirror.Galleryinfo, error), id galmirror.ID) (*galmirror.Galleryinfo, error) {
	start := time.Now()
	g, err := fetch(ctx, id)
	metricFetchDuration.WithLabelValues(fmt.Sprint(err == nil)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	g.ID = id
	return g, nil
}

// processInJobs chunks ids by the remote or local budget and runs worker over
// the chunks with at most budget chunks in flight, updating the batch
// counters as chunks complete. A worker error cancels the remaining chunks
// and propagates. The per-run counters are cleared when the run ends, on
// success or failure.
func (t *Task) processInJobs(ctx context.Context, ids []galmirror.ID, worker func(context.Context, []galmirror.ID) error, remote bool) error {
	size := t.LocalConcurrency
	if remote {
		size = t.RemoteConcurrency
	}
	batches := splitIDs(ids, size)

	t.mu.Lock()
	t.status.TotalItems = len(ids)
	t.status.BatchTotal = len(batches)
	t.status.BatchCompleted = 0
	t.status.ItemsProcessed = 0
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.status.reset()
		t.mu.Unlock()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(size)
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			if err := worker(ctx, batch); err != nil {
				return err
			}
			t.mu.Lock()
			t.status.BatchCompleted++
			t.status.ItemsProcessed += len(batch)
			t.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// fetchAndStoreGalleryinfo fetches each id upstream (identity-preserving) and
// creates it on target. The batch is sequential by design; parallelism comes
// from sibling batches.
func (t *Task) fetchAndStoreGalleryinfo(ctx context.Context, batch []galmirror.ID, target galmirror.GalleryinfoStore) error {
	for _, id := range batch {
		g, err := t.preprocess(ctx, t.upstream.Galleryinfo, id)
		if err != nil {
			return fmt.Errorf("fetch galleryinfo %d: %w", id, err)
		}
		if err := target.Create(ctx, g); err != nil {
			return fmt.Errorf("store galleryinfo %d: %w", id, err)
		}
	}
	metricItemsProcessed.WithLabelValues("galleryinfo").Add(float64(len(batch)))
	return nil
}

// fetchAndStoreInfo projects each relational record into the document store.
func (t *Task) fetchAndStoreInfo(ctx context.Context, batch []galmirror.ID) error {
	for _, id := range batch {
		g, err := t.gallery.Galleryinfo(ctx, id)
		if err != nil {
			return fmt.Errorf("load galleryinfo %d: %w", id, err)
		}
		if err := t.infos.Create(ctx, galmirror.InfoFromGalleryinfo(g)); err != nil {
			return fmt.Errorf("store info %d: %w", id, err)
		}
	}
	metricItemsProcessed.WithLabelValues("info").Add(float64(len(batch)))
	return nil
}

// integrityCheck re-fetches each id upstream and compares the record against
// the relational store. Upstream not-found puts the id on the skip-list and
// leaves local data alone. A mismatch is repaired by delete-then-create on
// both stores, relational first; the order is fixed.
func (t *Task) integrityCheck(ctx context.Context, batch []galmirror.ID) error {
	for _, id := range batch {
		remote, err := t.preprocess(ctx, t.upstream.Galleryinfo, id)
		if errors.Is(err, galmirror.ErrGalleryinfoNotFound) {
			t.addSkipID(id)
			metricIntegrityMissing.Inc()
			t.logger.Warn("galleryinfo not found upstream, added to skip list",
				sglog.Int64("id", int64(id)))
			continue
		}
		if err != nil {
			return fmt.Errorf("fetch galleryinfo %d: %w", id, err)
		}

		local, err := t.gallery.Galleryinfo(ctx, id)
		if err != nil {
			return fmt.Errorf("load galleryinfo %d: %w", id, err)
		}

		diff := cmp.Diff(local, remote)
		if diff == "" {
			continue
		}

		t.logger.Warn("integrity check failed, repairing",
			sglog.Int64("id", int64(id)),
			sglog.String("diff", diff))

		if err := t.gallery.Delete(ctx, id); err != nil {
			return fmt.Errorf("repair %d: delete galleryinfo: %w", id, err)
		}
		if err := t.infos.Delete(ctx, id); err != nil {
			return fmt.Errorf("repair %d: delete info: %w", id, err)
		}
		if err := t.gallery.Create(ctx, remote); err != nil {
			return fmt.Errorf("repair %d: create galleryinfo: %w", id, err)
		}
		if err := t.infos.Create(ctx, galmirror.InfoFromGalleryinfo(remote)); err != nil {
			return fmt.Errorf("repair %d: create info: %w", id, err)
		}
		metricIntegrityRepairs.Inc()
	}
	metricItemsProcessed.WithLabelValues("integrity").Add(float64(len(batch)))
	return nil
}

// PerformMirroring runs one mirror iteration: fetch galleryinfos the upstream
// advertises but the relational store lacks, project relational records the
// document store lacks, then integrity-check the freshly projected ids.
//
// The final pass covers the local diff, not the remote diff: it verifies the
// records this iteration pushed through both stores.
func (t *Task) PerformMirroring(ctx context.Context) error {
	metricMirrorIterations.Inc()

	remoteDiff, err := differences(ctx, t.upstream.AllIDs, t.gallery.AllIDs)
	if err != nil {
		return fmt.Errorf("computing remote differences: %w", err)
	}
	if len(remoteDiff) > 0 {
		t.logger.Info("mirroring galleryinfo", sglog.Int("missing", len(remoteDiff)))
		err := t.withFlag(func(s *Status, v bool) { s.IsMirroringGalleryinfo = v }, func() error {
			return t.processInJobs(ctx, remoteDiff, func(ctx context.Context, batch []galmirror.ID) error {
				return t.fetchAndStoreGalleryinfo(ctx, batch, t.gallery)
			}, true)
		})
		if err != nil {
			return err
		}
	}

	localDiff, err := differences(ctx, t.gallery.AllIDs, t.infos.AllIDs)
	if err != nil {
		return fmt.Errorf("computing local differences: %w", err)
	}
	if len(localDiff) > 0 {
		t.logger.Info("converting to info", sglog.Int("missing", len(localDiff)))
		err := t.withFlag(func(s *Status, v bool) { s.IsConvertingToInfo = v }, func() error {
			return t.processInJobs(ctx, localDiff, t.fetchAndStoreInfo, false)
		})
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.status.LastMirroredAt = now()
		t.mu.Unlock()
	}

	return t.PerformIntegrityCheck(ctx, localDiff)
}

// PerformIntegrityCheck runs the integrity checker over ids through the
// pipeline with the local budget, holding the is_checking_integrity flag.
func (t *Task) PerformIntegrityCheck(ctx context.Context, ids []galmirror.ID) error {
	return t.withFlag(func(s *Status, v bool) { s.IsCheckingIntegrity = v }, func() error {
		return t.processInJobs(ctx, ids, t.integrityCheck, false)
	})
}

// PerformPartialIntegrityCheck integrity-checks every document-store id not
// on the skip-list. Any error empties the skip-list before surfacing: the
// list is advisory and must not outlive a failure whose cause is unknown.
func (t *Task) PerformPartialIntegrityCheck(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			t.clearSkipIDs()
		}
	}()

	ids, err := t.infos.AllIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing info ids: %w", err)
	}
	return t.PerformIntegrityCheck(ctx, t.withoutSkipped(ids))
}

// PerformFullIntegrityCheck covers the same scope as the partial check: all
// document-store ids minus the skip-list. The skip-list subtraction makes
// "full" a slight misnomer, kept for operator continuity.
func (t *Task) PerformFullIntegrityCheck(ctx context.Context) error {
	ids, err := t.infos.AllIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing info ids: %w", err)
	}
	return t.PerformIntegrityCheck(ctx, t.withoutSkipped(ids))
}

func (t *Task) withoutSkipped(ids []galmirror.ID) []galmirror.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.skipIDs) == 0 {
		return ids
	}
	kept := make([]galmirror.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := t.skipIDs[id]; !ok {
			kept = append(kept, id)
		}
	}
	return kept
}

func (t *Task) checkingIntegrity() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.IsCheckingIntegrity
}

func (t *Task) mirroringActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.IsMirroringGalleryinfo || t.status.IsConvertingToInfo
}
