package watchlist

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	ac "github.com/anknown/ahocorasick"

	"github.com/0xdap/certsquat/pkg/mutate"
)

// ErrEmptyWatchlist is returned when no usable patterns survive
// normalization. Monitoring with zero patterns would run forever without
// ever matching, so it is rejected at construction.
var ErrEmptyWatchlist = errors.New("watch-list contains no patterns")

// Watchlist holds the active pattern set indexed in an Aho-Corasick
// automaton for substring search. It is immutable after construction and
// safe for concurrent readers without locking.
type Watchlist struct {
	machine  ac.Machine
	patterns []string
}

// Normalize lowercases s, trims surrounding whitespace, and strips a
// trailing dot. Patterns and match candidates go through the same
// normalization so comparisons stay consistent.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimSuffix(s, ".")
}

// New builds a Watchlist from raw pattern lines. Each line is normalized;
// blank lines, # comments, and duplicates are dropped. Returns
// ErrEmptyWatchlist when nothing survives.
func New(patterns []string) (*Watchlist, error) {
	seen := make(map[string]struct{})
	var kept []string
	for _, p := range patterns {
		p = Normalize(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return nil, ErrEmptyWatchlist
	}
	sort.Strings(kept)

	dict := make([][]rune, len(kept))
	for i, p := range kept {
		dict[i] = []rune(p)
	}

	w := &Watchlist{patterns: kept}
	if err := w.machine.Build(dict); err != nil {
		return nil, fmt.Errorf("failed to build pattern automaton: %w", err)
	}
	return w, nil
}

// Load builds a Watchlist from a pattern file, one pattern per line.
func Load(path string) (*Watchlist, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pattern file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}

	w, err := New(patterns)
	if err != nil {
		return nil, fmt.Errorf("pattern file %s: %w", path, err)
	}
	return w, nil
}

// FromSeeds builds a Watchlist from seed words plus every generated
// mutation of each seed.
func FromSeeds(seeds []string) (*Watchlist, error) {
	var patterns []string
	for _, seed := range seeds {
		muts, err := mutate.Mutations(seed)
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", seed, err)
		}
		patterns = append(patterns, Normalize(seed))
		patterns = append(patterns, muts...)
	}
	return New(patterns)
}

// Match reports the stored pattern contained in candidate, if any. The
// candidate is normalized like the stored patterns, then searched for any
// pattern appearing as a substring. When several patterns are contained,
// the longest one wins and equal lengths break lexicographically, so the
// reported pattern is stable across runs.
func (w *Watchlist) Match(candidate string) (string, bool) {
	c := Normalize(candidate)
	if c == "" {
		return "", false
	}

	terms := w.machine.MultiPatternSearch([]rune(c), false)
	if len(terms) == 0 {
		return "", false
	}

	best := ""
	for _, term := range terms {
		p := string(term.Word)
		if len(p) > len(best) || (len(p) == len(best) && p < best) {
			best = p
		}
	}
	return best, true
}

// Len reports the number of active patterns.
func (w *Watchlist) Len() int {
	return len(w.patterns)
}
