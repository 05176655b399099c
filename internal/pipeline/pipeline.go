// Package pipeline runs one discover, reconcile, remove and write cycle.
package pipeline

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"

	"leasesync/internal/crawler"
	perr "leasesync/internal/errors"
	"leasesync/internal/logger"
	"leasesync/internal/model"
	"leasesync/internal/observability"
	"leasesync/internal/reconcile"
	"leasesync/internal/repository"
)

type Discoverer interface {
	Discover(ctx context.Context) (model.URLSet, error)
}

type Extractor interface {
	ExtractAll(ctx context.Context, urls []string) []crawler.Outcome
}

type Writer interface {
	Write(ctx context.Context, records []*model.ListingRecord) (repository.BatchResult, error)
}

// Options tunes a run
type Options struct {
	RunID      string
	ParseBatch int // detail URLs extracted before each write
}

// Stats is the outcome of a run. A run that returns an error still reports
// what it did before failing.
type Stats struct {
	RunID      string
	Discovered int
	New        int
	Obsolete   int
	Removed    int

	Parsed      int
	FetchFailed int
	NoImages    int
	ParseFailed int

	Batches        int
	Inserted       int
	Skipped        int
	ImagesInserted int
	ImagesSkipped  int
	Clipped        int

	Duration time.Duration
}

// Pipeline wires the crawler to the store. Only the goroutine calling Run
// touches the store.
type Pipeline struct {
	discover Discoverer
	store    repository.Store
	extract  Extractor
	writer   Writer
	metrics  *observability.Metrics
	opts     Options
	log      *logger.Logger
}

func New(d Discoverer, store repository.Store, extract Extractor, writer Writer, m *observability.Metrics, o Options) *Pipeline {
	if o.ParseBatch < 1 {
		o.ParseBatch = 2000
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if m == nil {
		m = observability.NewMetrics(nil)
	}
	l := logger.Named("pipeline").With().Str("run_id", o.RunID).Logger()
	return &Pipeline{
		discover: d,
		store:    store,
		extract:  extract,
		writer:   writer,
		metrics:  m,
		opts:     o,
		log:      &l,
	}
}

// Run performs one full cycle. Discovery and store failures end the run;
// per-URL and per-row failures only show up in the counts.
func (p *Pipeline) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	st := &Stats{RunID: p.opts.RunID}
	defer func() { st.Duration = time.Since(start) }()

	p.log.Info().Msg("run start")

	discovered, err := p.discover.Discover(ctx)
	if err != nil {
		return p.fail(st, perr.Wrap(err, perr.CodeOf(err), "discover"))
	}
	stored, err := p.store.StoredURLs(ctx)
	if err != nil {
		return p.fail(st, perr.Wrap(err, perr.CodeOf(err), "load stored urls"))
	}

	added, obsolete := reconcile.Diff(discovered, stored)
	st.Discovered, st.New, st.Obsolete = len(discovered), len(added), len(obsolete)
	p.metrics.Discovered.Add(float64(st.Discovered))
	p.metrics.New.Add(float64(st.New))
	p.metrics.Obsolete.Add(float64(st.Obsolete))
	p.log.Info().
		Int("discovered", st.Discovered).
		Int("stored", len(stored)).
		Int("new", st.New).
		Int("obsolete", st.Obsolete).
		Msg("reconciled")

	if len(obsolete) > 0 {
		n, err := p.store.RemoveObsolete(ctx, obsolete)
		if err != nil {
			return p.fail(st, perr.Wrap(err, perr.CodeOf(err), "remove obsolete"))
		}
		st.Removed = n
		p.metrics.Removed.Add(float64(n))
		p.log.Info().Int("removed", n).Msg("obsolete listings removed")
	}

	for i := 0; i < len(added); i += p.opts.ParseBatch {
		batch := added[i:min(i+p.opts.ParseBatch, len(added))]
		if err := p.runBatch(ctx, i/p.opts.ParseBatch+1, batch, st); err != nil {
			return p.fail(st, err)
		}
	}

	p.metrics.Runs.WithLabelValues("ok").Inc()
	p.log.Info().
		Int("discovered", st.Discovered).
		Int("new", st.New).
		Int("obsolete", st.Obsolete).
		Int("removed", st.Removed).
		Int("inserted", st.Inserted).
		Int("skipped", st.Skipped).
		Int("fetch_failed", st.FetchFailed).
		Int("no_images", st.NoImages).
		Int("parse_failed", st.ParseFailed).
		Int("images", st.ImagesInserted).
		Dur("took", time.Since(start)).
		Msg("run finished")
	return st, nil
}

func (p *Pipeline) runBatch(ctx context.Context, n int, urls []string, st *Stats) error {
	outcomes := p.extract.ExtractAll(ctx, urls)

	records := make([]*model.ListingRecord, 0, len(outcomes))
	var fetchFailed, noImages, parseFailed int
	for _, o := range outcomes {
		p.metrics.Outcomes.WithLabelValues(o.Kind.String()).Inc()
		switch o.Kind {
		case crawler.OutcomeOK:
			records = append(records, o.Record)
		case crawler.OutcomeFetchFailed:
			fetchFailed++
		case crawler.OutcomeNoImages:
			noImages++
		default:
			parseFailed++
		}
	}
	st.Parsed += len(records)
	st.FetchFailed += fetchFailed
	st.NoImages += noImages
	st.ParseFailed += parseFailed

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	p.log.Info().
		Int("batch", n).
		Int("urls", len(urls)).
		Int("parsed", len(records)).
		Int("fetch_failed", fetchFailed).
		Int("no_images", noImages).
		Int("parse_failed", parseFailed).
		Uint64("heap_inuse_mb", mem.HeapInuse>>20).
		Msg("batch extracted")

	res, err := p.writer.Write(ctx, records)
	p.count(res, st)
	if err != nil {
		return perr.Wrapf(err, perr.CodeOf(err), "write batch %d", n)
	}
	return nil
}

func (p *Pipeline) count(res repository.BatchResult, st *Stats) {
	st.Batches += res.Batches
	st.Inserted += res.Inserted
	st.Skipped += res.Skipped
	st.ImagesInserted += res.ImagesInserted
	st.ImagesSkipped += res.ImagesSkipped
	st.Clipped += res.Clipped

	p.metrics.Batches.Add(float64(res.Batches))
	p.metrics.Inserted.Add(float64(res.Inserted))
	p.metrics.Skipped.WithLabelValues(string(repository.SkipListing)).Add(float64(res.Skipped))
	p.metrics.Skipped.WithLabelValues(string(repository.SkipImage)).Add(float64(res.ImagesSkipped))
	p.metrics.Images.Add(float64(res.ImagesInserted))
	p.metrics.Clipped.Add(float64(res.Clipped))
}

func (p *Pipeline) fail(st *Stats, err error) (*Stats, error) {
	p.metrics.Runs.WithLabelValues("failed").Inc()
	p.log.Error().Err(err).Msg("run failed")
	return st, err
}
