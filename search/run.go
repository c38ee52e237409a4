package search

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/model"
)

// Journal persists verdicts. *checkpoint.Journal satisfies it.
type Journal interface {
	Record(v model.Verdict) error
	Compact(remaining, found []model.Summit) error
}

// Outcome summarises a run.
type Outcome struct {
	Classified int // verdicts from Classify
	Dominated  int // verdicts from the elimination pass
	Failed     int // candidates deferred after an error
	Remaining  []model.Summit
	Found      []model.Summit
}

type classified struct {
	verdict model.Verdict
	elapsed time.Duration
}

// Run classifies remaining, highest first, committing every verdict to
// journal exactly once. found holds pinnacles confirmed by earlier runs.
// Workers classify in parallel; a single collector owns the journal, the
// found list and compaction. Candidates that fail stay in Remaining for the
// next run. When ctx is cancelled Run compacts what it has and returns the
// context error with the partial Outcome.
func (s *Searcher) Run(ctx context.Context, remaining, found []model.Summit, journal Journal) (Outcome, error) {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := append([]model.Summit(nil), remaining...)
	model.SortByElevation(queue)
	byID := make(map[int64]model.Summit, len(queue))
	for _, c := range queue {
		byID[c.ID] = c
	}
	out := Outcome{Found: append([]model.Summit(nil), found...)}

	var (
		mu      sync.Mutex
		decided = make(map[int64]bool, len(queue))
	)
	undecided := func(id int64) bool {
		mu.Lock()
		defer mu.Unlock()
		_, queued := byID[id]
		return queued && !decided[id]
	}
	claim := func(id int64) bool {
		mu.Lock()
		defer mu.Unlock()
		if decided[id] {
			return false
		}
		decided[id] = true
		return true
	}

	jobs := make(chan model.Summit)
	results := make(chan classified)

	go func() {
		defer close(jobs)
		sent := 0
		for _, c := range queue {
			if s.cfg.Limit > 0 && sent >= s.cfg.Limit {
				return
			}
			if !undecided(c.ID) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- c:
				sent++
			}
		}
	}()

	var failed atomic.Int64
	send := func(v model.Verdict, elapsed time.Duration) bool {
		select {
		case results <- classified{verdict: v, elapsed: elapsed}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < s.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				if !undecided(c.ID) {
					continue
				}
				log := logging.WithCandidate(s.log, c)
				start := time.Now()
				v, err := s.Classify(ctx, c)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					failed.Add(1)
					if s.metrics != nil {
						s.metrics.CandidateFailed()
					}
					log.Warn(ctx, "candidate deferred", logging.Err(err))
					continue
				}
				if !send(v, time.Since(start)) {
					return
				}
				if !s.cfg.EliminateDominated {
					continue
				}
				ids, err := s.Dominated(ctx, c, undecided)
				if err != nil && ctx.Err() == nil {
					log.Warn(ctx, "dominance pass failed", logging.Err(err))
				}
				for _, id := range ids {
					if !claim(id) {
						continue
					}
					dv := model.Verdict{SummitID: id, DisqualifiedBy: c.ID, Dominated: true}
					if !send(dv, 0) {
						return
					}
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var tick <-chan time.Time
	if s.cfg.CompactInterval > 0 {
		t := time.NewTicker(s.cfg.CompactInterval)
		defer t.Stop()
		tick = t.C
	}

	committed := make(map[int64]bool, len(queue))
	pending := func() []model.Summit {
		rest := make([]model.Summit, 0, len(queue)-len(committed))
		for _, c := range queue {
			if !committed[c.ID] {
				rest = append(rest, c)
			}
		}
		return rest
	}
	compact := func() error {
		model.SortByElevation(out.Found)
		return journal.Compact(pending(), out.Found)
	}

	var runErr error
	sinceCompact := 0
loop:
	for {
		select {
		case r, ok := <-results:
			if !ok {
				break loop
			}
			v := r.verdict
			if runErr != nil || committed[v.SummitID] {
				continue
			}
			if err := journal.Record(v); err != nil {
				runErr = err
				cancel()
				continue
			}
			committed[v.SummitID] = true
			claim(v.SummitID)
			switch {
			case v.Pinnacle:
				out.Found = append(out.Found, byID[v.SummitID])
				out.Classified++
			case v.Dominated:
				out.Dominated++
			default:
				out.Classified++
			}
			if s.metrics != nil {
				s.metrics.ObserveVerdict(v, r.elapsed)
				s.metrics.SetProgress(len(queue)-len(committed), len(out.Found))
			}
			sinceCompact++
			if s.cfg.CompactEvery > 0 && sinceCompact >= s.cfg.CompactEvery {
				if err := compact(); err != nil {
					runErr = err
					cancel()
					continue
				}
				sinceCompact = 0
			}
		case <-tick:
			if runErr != nil || sinceCompact == 0 {
				continue
			}
			if err := compact(); err != nil {
				runErr = err
				cancel()
				continue
			}
			sinceCompact = 0
			s.log.Info(ctx, "search progress",
				logging.Int("remaining", len(queue)-len(committed)),
				logging.Int("found", len(out.Found)),
				logging.Int64("failed", failed.Load()),
			)
		}
	}

	out.Failed = int(failed.Load())
	if runErr == nil {
		runErr = compact()
	}
	model.SortByElevation(out.Found)
	out.Remaining = pending()
	if runErr == nil {
		runErr = parent.Err()
	}
	s.log.Info(parent, "search finished",
		logging.Int("classified", out.Classified),
		logging.Int("dominated", out.Dominated),
		logging.Int("failed", out.Failed),
		logging.Int("remaining", len(out.Remaining)),
		logging.Int("found", len(out.Found)),
	)
	return out, runErr
}
