package crawler

import (
	"context"
	"sync"

	"leasesync/internal/logger"
)

type job struct {
	ctx  context.Context
	url  string
	out  *Outcome
	done *sync.WaitGroup
}

// Pool runs detail extraction on a fixed set of workers. Each worker creates
// its Client on its first job and closes it when the pool is closed. Workers
// never touch the store.
type Pool struct {
	jobs      chan job
	wg        sync.WaitGroup
	detail    *Detail
	newClient func() *Client
	log       *logger.Logger
}

func NewPool(workers int, newClient func() *Client, detail *Detail) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		jobs:      make(chan job),
		detail:    detail,
		newClient: newClient,
		log:       logger.Named("extract"),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	var c *Client
	defer func() {
		if c != nil {
			c.Close()
		}
	}()

	for j := range p.jobs {
		if c == nil {
			c = p.newClient()
		}
		rec, err := p.detail.Extract(j.ctx, c, j.url)
		*j.out = outcomeOf(j.url, rec, err)
		switch j.out.Kind {
		case OutcomeNoImages:
			p.log.Warn().Str("url", j.url).Msg("no images, rejected")
		case OutcomeFetchFailed, OutcomeParseFailed:
			p.log.Warn().Str("url", j.url).Str("kind", j.out.Kind.String()).Err(err).Msg("detail skipped")
		}
		j.done.Done()
	}
}

// ExtractAll extracts urls concurrently and returns one Outcome per URL in
// input order.
func (p *Pool) ExtractAll(ctx context.Context, urls []string) []Outcome {
	out := make([]Outcome, len(urls))
	var done sync.WaitGroup
	done.Add(len(urls))
	for i, u := range urls {
		p.jobs <- job{ctx: ctx, url: u, out: &out[i], done: &done}
	}
	done.Wait()
	return out
}

// Close stops the workers and releases their clients
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
