package workflow

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cartpry/pentestorch/errs"
)

// Environment is the deployment environment constraint, which affects
// restraint policy (spec.md §3 "Constraints").
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Constraints are the recognized submission options (spec.md §3).
type Constraints struct {
	Environment           Environment
	Scope                 []string
	TimeLimit             time.Duration
	MinTestsPerPhase      int
	ExcludeTests          map[string]struct{}
	RequiresAuth          bool
	UseSecListsWordlists  bool
}

// Normalize fills in defaults and validates ranges, returning a
// *errs.ValidationError for anything out of bounds.
func (c Constraints) Normalize() (Constraints, error) {
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return c, &errs.ValidationError{Field: "environment", Reason: fmt.Sprintf("unrecognized environment %q", c.Environment)}
	}
	if c.TimeLimit < 0 {
		return c, &errs.ValidationError{Field: "timeLimit", Reason: "must be non-negative"}
	}
	if c.MinTestsPerPhase < 0 {
		return c, &errs.ValidationError{Field: "minTestsPerPhase", Reason: "must be non-negative"}
	}
	if c.ExcludeTests == nil {
		c.ExcludeTests = map[string]struct{}{}
	}
	return c, nil
}

// Excludes reports whether tool is in the ExcludeTests set.
func (c Constraints) Excludes(tool string) bool {
	_, ok := c.ExcludeTests[tool]
	return ok
}

// InScope reports whether target matches one of the configured scope
// patterns. An empty scope list means unrestricted.
func (c Constraints) InScope(target string) bool {
	if len(c.Scope) == 0 {
		return true
	}
	host := hostOf(target)
	for _, pattern := range c.Scope {
		if matchesScope(pattern, target, host) {
			return true
		}
	}
	return false
}

func hostOf(target string) string {
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		return u.Host
	}
	return target
}

func matchesScope(pattern, target, host string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.test"
		return strings.HasSuffix(host, suffix) || host == pattern[2:]
	}
	return strings.Contains(target, pattern) || strings.Contains(host, pattern)
}

// ValidateTarget ensures target parses as a URL or bare host.
func ValidateTarget(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return &errs.ValidationError{Field: "target", Reason: "must not be empty"}
	}
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil || u.Host == "" {
			return &errs.ValidationError{Field: "target", Reason: "invalid URL"}
		}
		return nil
	}
	// Bare host/IP: reject whitespace and path separators.
	if strings.ContainsAny(target, " \t\n/\\") {
		return &errs.ValidationError{Field: "target", Reason: "invalid host"}
	}
	return nil
}
