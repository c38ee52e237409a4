package search

import (
	"context"
	"sort"
	"sync"

	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/model"
)

// SightLine is a visible observer to target pair.
type SightLine struct {
	Observer model.Summit
	Target   model.Summit
	Distance float64 // surface distance, metres
	Contrast float64
}

// SurveyOptions filters the longest line-of-sight survey.
type SurveyOptions struct {
	// MinDistance drops pairs at or below this surface distance.
	MinDistance float64
	// Target limits which lower summits are considered; nil accepts all.
	Target func(model.Summit) bool
}

// Survey finds, for every observer, the farthest lower summit it can see and
// returns those lines sorted longest first. Observers whose patch or tests
// fail are logged and skipped.
func (s *Searcher) Survey(ctx context.Context, observers []model.Summit, opts SurveyOptions) ([]SightLine, error) {
	jobs := make(chan model.Summit)
	var (
		mu    sync.Mutex
		lines []SightLine
		wg    sync.WaitGroup
	)
	for w := 0; w < s.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for o := range jobs {
				line, ok := s.longestFrom(ctx, o, opts)
				if !ok {
					continue
				}
				mu.Lock()
				lines = append(lines, line)
				mu.Unlock()
			}
		}()
	}

feed:
	for _, o := range observers {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- o:
		}
	}
	close(jobs)
	wg.Wait()

	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Distance != lines[j].Distance {
			return lines[i].Distance > lines[j].Distance
		}
		return lines[i].Observer.ID < lines[j].Observer.ID
	})
	return lines, ctx.Err()
}

func (s *Searcher) longestFrom(ctx context.Context, o model.Summit, opts SurveyOptions) (SightLine, bool) {
	log := logging.WithCandidate(s.log, o)
	p, err := s.index.Lookup(o.Lat, o.Lng)
	if err != nil {
		log.Warn(ctx, "survey observer skipped", logging.Err(err))
		return SightLine{}, false
	}
	reach := s.engine.HorizonDistance(o.Elevation)
	var targets []neighbour
	for _, t := range p.Summits {
		if t.ID == o.ID || !o.HigherThan(t) {
			continue
		}
		if opts.Target != nil && !opts.Target(t) {
			continue
		}
		d := s.engine.Distance(o.Point, t.Point)
		if d <= opts.MinDistance || d >= reach+s.engine.HorizonDistance(t.Elevation) {
			continue
		}
		targets = append(targets, neighbour{summit: t, distance: d})
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].distance != targets[j].distance {
			return targets[i].distance > targets[j].distance
		}
		return targets[i].summit.ID < targets[j].summit.ID
	})

	for _, t := range targets {
		if ctx.Err() != nil {
			return SightLine{}, false
		}
		res, err := s.engine.HasSight(ctx, o, t.summit)
		if err != nil {
			log.Warn(ctx, "survey pair skipped", logging.Int64("target_id", t.summit.ID), logging.Err(err))
			continue
		}
		if res.Visible {
			return SightLine{Observer: o, Target: t.summit, Distance: t.distance, Contrast: res.Contrast}, true
		}
	}
	return SightLine{}, false
}
