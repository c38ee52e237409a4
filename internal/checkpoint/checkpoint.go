// Package checkpoint persists search progress so an interrupted run resumes
// where it stopped. State is a snapshot of the remaining and found summit
// tables plus a journal of verdicts committed since the snapshot.
package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jgbreault/PinnaclePoints/internal/catalog"
	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/model"
)

const (
	RemainingFile = "remaining.csv"
	FoundFile     = "found.csv"
	JournalFile   = "journal.log"
)

// State is the progress recovered by Open.
type State struct {
	Remaining []model.Summit // highest first
	Found     []model.Summit // highest first
	Replayed  int            // journal entries applied
}

// Journal appends verdicts durably and folds them into the snapshot on
// Compact. It is safe for concurrent use.
type Journal struct {
	dir string
	log logging.Logger

	mu sync.Mutex
	f  *os.File
}

// Open loads the checkpoint in dir, seeding it from candidates when none
// exists, and replays any journal left by an interrupted run.
func Open(ctx context.Context, dir string, candidates []model.Summit, log logging.Logger) (*Journal, State, error) {
	if log == nil {
		log = logging.Noop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, State{}, err
	}
	j := &Journal{dir: dir, log: log}

	remaining, err := readTable(filepath.Join(dir, RemainingFile))
	fresh := errors.Is(err, fs.ErrNotExist)
	switch {
	case fresh:
		remaining = append([]model.Summit(nil), candidates...)
	case err != nil:
		return nil, State{}, err
	}
	found, err := readTable(filepath.Join(dir, FoundFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, State{}, err
	}

	state, err := replay(ctx, filepath.Join(dir, JournalFile), remaining, found, log)
	if err != nil {
		return nil, State{}, err
	}

	j.f, err = os.OpenFile(filepath.Join(dir, JournalFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, State{}, err
	}
	if fresh {
		if err := j.Compact(state.Remaining, state.Found); err != nil {
			j.f.Close()
			return nil, State{}, err
		}
	}
	log.Info(ctx, "checkpoint opened",
		logging.String("dir", dir),
		logging.Bool("fresh", fresh),
		logging.Int("remaining", len(state.Remaining)),
		logging.Int("found", len(state.Found)),
		logging.Int("replayed", state.Replayed),
	)
	return j, state, nil
}

func replay(ctx context.Context, path string, remaining, found []model.Summit, log logging.Logger) (State, error) {
	byID := make(map[int64]model.Summit, len(remaining))
	for _, s := range remaining {
		byID[s.ID] = s
	}
	foundIDs := make(map[int64]bool, len(found))
	for _, s := range found {
		foundIDs[s.ID] = true
	}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return State{}, err
	}
	replayed := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var v model.Verdict
		if err := json.Unmarshal(raw, &v); err != nil {
			// A torn final write from a crash; earlier entries stand.
			log.Warn(ctx, "skipping unreadable journal entry", logging.Int("line", line), logging.Err(err))
			continue
		}
		s, ok := byID[v.SummitID]
		if !ok {
			continue
		}
		delete(byID, v.SummitID)
		if v.Pinnacle && !foundIDs[s.ID] {
			found = append(found, s)
			foundIDs[s.ID] = true
		}
		replayed++
	}
	if err := sc.Err(); err != nil {
		return State{}, err
	}

	left := make([]model.Summit, 0, len(byID))
	for _, s := range remaining {
		if _, ok := byID[s.ID]; ok {
			left = append(left, s)
		}
	}
	model.SortByElevation(left)
	model.SortByElevation(found)
	return State{Remaining: left, Found: found, Replayed: replayed}, nil
}

// Record appends a verdict and syncs it to disk.
func (j *Journal) Record(v model.Verdict) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return fmt.Errorf("checkpoint journal closed")
	}
	if _, err := j.f.Write(line); err != nil {
		return fmt.Errorf("append verdict %d: %w", v.SummitID, err)
	}
	return j.f.Sync()
}

// Compact replaces the snapshot with the given tables and empties the
// journal. found is written before remaining so that a crash between the two
// only leaves verdicts the journal replays again.
func (j *Journal) Compact(remaining, found []model.Summit) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return fmt.Errorf("checkpoint journal closed")
	}
	if err := writeTable(j.dir, FoundFile, found); err != nil {
		return err
	}
	if err := writeTable(j.dir, RemainingFile, remaining); err != nil {
		return err
	}
	if err := j.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	return j.f.Sync()
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Sync()
	if cerr := j.f.Close(); err == nil {
		err = cerr
	}
	j.f = nil
	return err
}

func readTable(path string) ([]model.Summit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	summits, rejected, err := catalog.ReadSummits(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(rejected) > 0 {
		return nil, fmt.Errorf("%s: %w", path, rejected[0])
	}
	return summits, nil
}

// writeTable replaces dir/name atomically.
func writeTable(dir, name string, summits []model.Summit) error {
	return catalog.Save(filepath.Join(dir, name), summits, catalog.Lossless(summits))
}
