package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of every section.
var knownKeys = map[string][]string{
	"app": {
		"client_id", "client_secret", "redirect_uri", "resource",
		"scopes", "tenant", "token_url",
	},
	"graph":   {"api_version", "base_url", "calendar_page_size", "max_pages", "user"},
	"auth":    {"backoff_base", "backoff_max", "refresh_retries"},
	"network": {"burst", "requests_per_second", "timeout", "user_agent"},
	"storage": {"credential_backend", "state_db", "token_file"},
	"logging": {"log_format", "log_level"},
}

// knownSections is the sorted list of section names. Sorted for deterministic
// suggestions when two candidates have the same edit distance.
var knownSections = func() []string {
	sections := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		sections = append(sections, s)
	}

	sort.Strings(sections)

	return sections
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	// An unknown table reports itself and each of its keys; report it once.
	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := unknownKeyError(key)
		if seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	if len(key) == 1 {
		for _, section := range knownSections {
			if slices.Contains(knownKeys[section], key[0]) {
				return fmt.Errorf("config key %q must be inside the [%s] section", key[0], section)
			}
		}

		return withSuggestion(fmt.Sprintf("unknown config section %q", key[0]), key[0], knownSections)
	}

	section, field := key[0], key[1]

	keys, ok := knownKeys[section]
	if !ok {
		return withSuggestion(fmt.Sprintf("unknown config section %q", section), section, knownSections)
	}

	return withSuggestion(fmt.Sprintf("unknown config key %q in [%s]", field, section), field, keys)
}

func withSuggestion(msg, unknown string, known []string) error {
	if suggestion := closestMatch(unknown, known); suggestion != "" {
		return fmt.Errorf("%s, did you mean %q?", msg, suggestion)
	}

	return errors.New(msg)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings using a single
// rolling row pair.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
