package fhirpath

import (
	"fmt"
	"regexp"
	"sync"
)

// regexCache memoizes compiled patterns for matches/replaceMatches/
// matchesFull, bounded by the number of distinct rewritten source
// patterns actually seen across the running expressions (§5, §9). Go's
// regexp package already implements RE2 dotAll natively via the "(?s)"
// flag these functions prepend, so there is no separate dotAll-rewrite
// pass to cache the output of; the cache still earns its keep by saving
// repeated regexp.Compile calls for the same pattern+flags string across
// many evaluations of the same expression.
var (
	regexCacheMu sync.Mutex
	regexCache   = map[string]*regexp.Regexp{}
)

func compileCachedRegex(pattern string) (*regexp.Regexp, error) {
	regexCacheMu.Lock()
	if re, ok := regexCache[pattern]; ok {
		regexCacheMu.Unlock()
		return re, nil
	}
	regexCacheMu.Unlock()

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression: %w", err)
	}

	regexCacheMu.Lock()
	regexCache[pattern] = re
	regexCacheMu.Unlock()
	return re, nil
}
