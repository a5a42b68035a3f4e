package rbac

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Matcher evaluates slash-delimited resource patterns against resource
// paths. Each "*" segment matches greedily, so a single wildcard can span
// multiple path segments. Compiled patterns are cached.
type Matcher struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

// NewMatcher creates a matcher with a bounded pattern cache.
func NewMatcher(cacheSize int) (*Matcher, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New[string, *regexp.Regexp](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	return &Matcher{cache: cache}, nil
}

// compile translates a resource pattern into an anchored regular expression.
func (m *Matcher) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := m.cache.Get(pattern); ok {
		return re, nil
	}

	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if seg == "*" {
			segments[i] = ".*"
		}
	}

	re, err := regexp.Compile("^" + strings.Join(segments, "/") + "$")
	if err != nil {
		return nil, fmt.Errorf("invalid resource pattern %q: %w", pattern, err)
	}

	m.cache.Add(pattern, re)
	return re, nil
}

// MatchResource reports whether resource matches the pattern. The whole
// resource must match, partial prefix matches do not count.
func (m *Matcher) MatchResource(pattern, resource string) (bool, error) {
	re, err := m.compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(resource), nil
}

// MatchAction reports whether the policy grants the action. A "*" action
// grants everything.
func MatchAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}
