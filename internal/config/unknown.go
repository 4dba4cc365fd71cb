package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// accountTable is the top-level key holding account sections.
const accountTable = "account"

// knownGlobalKeys are the valid flat top-level keys in the config file.
var knownGlobalKeys = map[string]bool{
	"default_account": true,
	// Display settings
	"preview_width": true, "preview_height": true,
	// Network settings
	"connect_timeout": true, "data_timeout": true, "user_agent": true,
	// Logging settings
	"log_level": true, "log_format": true,
	// Server settings
	"listen": true, "max_concurrent": true,
}

// knownAccountKeys are the valid keys inside an account section.
var knownAccountKeys = map[string]bool{
	"url": true, "client_id": true, "client_secret": true, "token_file": true,
}

var (
	knownGlobalKeysList  = sortedKeys(knownGlobalKeys)
	knownAccountKeysList = sortedKeys(knownAccountKeys)
)

// sortedKeys returns map keys sorted, for deterministic suggestions when two
// candidates have the same edit distance.
func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		// account.<identity>.<field>
		if len(key) == 3 && key[0] == accountTable {
			errs = append(errs, unknownKeyError(key[2], knownAccountKeysList,
				fmt.Sprintf(" in account [%q]", key[1])))

			continue
		}

		errs = append(errs, unknownKeyError(key[0], knownGlobalKeysList, ""))
	}

	return errors.Join(errs...)
}

// unknownKeyError builds an error for an unknown key, suggesting the closest
// known key when one is within maxLevenshteinDistance.
func unknownKeyError(field string, known []string, where string) error {
	if suggestion := closestMatch(field, known); suggestion != "" {
		return fmt.Errorf("unknown config key %q%s; did you mean %q?", field, where, suggestion)
	}

	return fmt.Errorf("unknown config key %q%s", field, where)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(strings.ToLower(unknown), k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
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

			curr[j+1] = min(prev[j+1]+1, curr[j]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
