package mutate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Errors returned for unusable seed words.
var (
	ErrEmptySeed   = errors.New("empty seed word")
	ErrInvalidSeed = errors.New("seed word contains invalid characters")
)

// confusables maps each character to the look-alike or keyboard-adjacent
// replacements commonly seen in squatted domains. Multi-character entries
// cover glyph pairs that render like a single letter (rn for m, cl for d).
var confusables = map[byte][]string{
	'a': {"4", "@"},
	'e': {"3"},
	'i': {"1", "l"},
	'o': {"0"},
	's': {"5", "$"},
	't': {"7"},
	'b': {"8"},
	'l': {"1", "i"},
	'g': {"9"},
	'm': {"n", "nn", "rn"},
	'n': {"m", "nn", "ri"},
	'd': {"cl"},
	'u': {"v"},
	'r': {"p"},
	'c': {"e"},
}

// affixWords are lure words prepended and appended to the seed whole.
var affixWords = []string{
	"sale", "buy", "shop", "online", "official", "store", "airdrop", "mint",
}

// tldSuffixes turn the bare seed into full-domain variants.
var tldSuffixes = []string{"com", "net", "co", "info", "org", "io"}

// insertAlphabet is every single-character replacement from the confusable
// table, deduplicated and sorted. Bounding insertion to this alphabet keeps
// the variant count linear in seed length instead of exploding over the full
// character set.
var insertAlphabet = buildInsertAlphabet()

func buildInsertAlphabet() []string {
	seen := make(map[string]struct{})
	for _, reps := range confusables {
		for _, rep := range reps {
			if len(rep) == 1 {
				seen[rep] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Mutations returns every typosquat variant of seed: single-character
// omissions, duplications, adjacent transpositions, confusable
// substitutions, bounded insertions, internal hyphenations, lure-word
// affixes, and common-TLD suffixes. The result is deduplicated, sorted,
// and never contains the seed itself. The seed is lowercased and trimmed
// first; after that it must consist only of letters, digits, and hyphens.
func Mutations(seed string) ([]string, error) {
	word := strings.ToLower(strings.TrimSpace(seed))
	if word == "" {
		return nil, ErrEmptySeed
	}
	if err := validateSeed(word); err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	add := func(variants []string) {
		for _, v := range variants {
			set[v] = struct{}{}
		}
	}

	add(omissions(word))
	add(duplications(word))
	add(transpositions(word))
	add(substitutions(word))
	add(insertions(word))
	add(hyphenations(word))
	add(affixes(word))
	add(tldVariants(word))

	delete(set, word)

	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// validateSeed checks that word contains only lowercase letters, digits,
// and hyphens. Callers lowercase the word first.
func validateSeed(word string) error {
	for i := 0; i < len(word); i++ {
		c := word[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidSeed, word)
		}
	}
	return nil
}

// omissions removes one character at each position, yielding exactly
// len(word) variants before deduplication.
func omissions(word string) []string {
	out := make([]string, 0, len(word))
	for i := 0; i < len(word); i++ {
		out = append(out, word[:i]+word[i+1:])
	}
	return out
}

// duplications repeats one character at each position.
func duplications(word string) []string {
	out := make([]string, 0, len(word))
	for i := 0; i < len(word); i++ {
		out = append(out, word[:i+1]+word[i:])
	}
	return out
}

// transpositions swaps each pair of neighboring characters.
func transpositions(word string) []string {
	out := make([]string, 0, len(word))
	for i := 0; i+1 < len(word); i++ {
		out = append(out, word[:i]+string(word[i+1])+string(word[i])+word[i+2:])
	}
	return out
}

// substitutions replaces the character at each position with each of its
// confusable replacements. One position at a time: the variant keeps every
// other occurrence of the character intact.
func substitutions(word string) []string {
	var out []string
	for i := 0; i < len(word); i++ {
		for _, rep := range confusables[word[i]] {
			out = append(out, word[:i]+rep+word[i+1:])
		}
	}
	return out
}

// insertions inserts each character of the confusable alphabet at each
// position, including before the first and after the last character.
func insertions(word string) []string {
	out := make([]string, 0, (len(word)+1)*len(insertAlphabet))
	for i := 0; i <= len(word); i++ {
		for _, c := range insertAlphabet {
			out = append(out, word[:i]+c+word[i:])
		}
	}
	return out
}

// hyphenations inserts a hyphen at each internal position.
func hyphenations(word string) []string {
	out := make([]string, 0, len(word))
	for i := 1; i < len(word); i++ {
		out = append(out, word[:i]+"-"+word[i:])
	}
	return out
}

// affixes concatenates each lure word before and after the seed.
func affixes(word string) []string {
	out := make([]string, 0, 2*len(affixWords))
	for _, w := range affixWords {
		out = append(out, word+w, w+word)
	}
	return out
}

// tldVariants appends each common TLD to the bare seed.
func tldVariants(word string) []string {
	out := make([]string, 0, len(tldSuffixes))
	for _, tld := range tldSuffixes {
		out = append(out, word+"."+tld)
	}
	return out
}

// WriteMutationsFile writes one mutation per line to <seed>_mutations.txt
// inside dir and returns the path written.
func WriteMutationsFile(dir, seed string, mutations []string) (string, error) {
	path := filepath.Join(dir, seed+"_mutations.txt")
	var b strings.Builder
	for _, m := range mutations {
		b.WriteString(m)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write mutations file: %w", err)
	}
	return path, nil
}
