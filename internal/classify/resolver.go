// Package classify resolves transaction descriptions into a three level
// classification using the property's category mappings.
package classify

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

// Resolver picks the best matching active mapping. Higher priority wins, then
// the longer (more specific) pattern, then the lower id.
type Resolver struct {
	mu      sync.RWMutex
	regexes map[string]*regexp.Regexp
	logger  *slog.Logger
}

var _ books.Classifier = (*Resolver)(nil)

// NewResolver constructs a Resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{regexes: make(map[string]*regexp.Regexp), logger: logger}
}

// Classify returns the classification of the best mapping matching
// description, or nil when none matches.
func (r *Resolver) Classify(description string, mappings []books.CategoryMapping) *books.Classification {
	candidates := make([]books.CategoryMapping, 0, len(mappings))
	for _, m := range mappings {
		if m.Active && r.matches(m, description) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if len(a.Pattern) != len(b.Pattern) {
			return len(a.Pattern) > len(b.Pattern)
		}
		return a.ID < b.ID
	})
	return candidates[0].Classification()
}

func (r *Resolver) matches(m books.CategoryMapping, description string) bool {
	pattern := strings.TrimSpace(m.Pattern)
	if pattern == "" {
		return false
	}
	desc := strings.ToLower(strings.TrimSpace(description))
	switch m.MatchMode {
	case books.MatchExact:
		return desc == strings.ToLower(pattern)
	case books.MatchPrefix:
		return strings.HasPrefix(desc, strings.ToLower(pattern))
	case books.MatchRegex:
		re := r.compile(pattern)
		return re != nil && re.MatchString(description)
	default:
		return strings.Contains(desc, strings.ToLower(pattern))
	}
}

func (r *Resolver) compile(pattern string) *regexp.Regexp {
	r.mu.RLock()
	re, ok := r.regexes[pattern]
	r.mu.RUnlock()
	if ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		r.logger.Warn("invalid mapping regex", slog.String("pattern", pattern), slog.Any("error", err))
		re = nil
	}
	r.mu.Lock()
	r.regexes[pattern] = re
	r.mu.Unlock()
	return re
}
