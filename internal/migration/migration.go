// Package migration upgrades versioned documents through an ordered chain of
// pure transformation steps.
//
// A Chain is a static, semver-sorted list of {From, To, Apply} records. Each
// Apply receives a private deep copy of the document, so a failing step never
// leaks a partially migrated value to the caller: Migrate returns either the
// fully migrated document or an error.
package migration

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/mattjoyce/pipelab/internal/log"
)

// VersionKey is the document field that selects which steps apply.
const VersionKey = "version"

var (
	// ErrUnknownVersion is returned when a document or target version is not
	// part of the chain.
	ErrUnknownVersion = errors.New("unknown schema version")

	// ErrDowngradeUnsupported is returned when the target precedes the
	// document's version.
	ErrDowngradeUnsupported = errors.New("downgrade migrations are not supported")
)

// StepError reports a transformation step that failed.
type StepError struct {
	From string
	To   string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration %s -> %s failed: %v", e.From, e.To, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ApplyFunc transforms a document at version From into a document at version To.
// The version field is stamped by the chain after Apply returns.
type ApplyFunc func(doc map[string]any) (map[string]any, error)

// Step is one version-to-version transformation.
type Step struct {
	From  string
	To    string
	Apply ApplyFunc
}

// Options controls a single Migrate call.
type Options struct {
	// Target is the version to stop at. Empty means the latest known version.
	Target string
	// Debug logs every applied step at INFO level.
	Debug bool
}

// Chain is an immutable, sorted list of migration steps.
type Chain struct {
	name     string
	steps    []Step
	versions []string
}

// New builds a chain from steps given in any order. Steps must form a single
// contiguous path (each To is the next From) with strictly increasing versions.
func New(name string, steps ...Step) (*Chain, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("migration chain %q has no steps", name)
	}

	sorted := make([]Step, 0, len(steps))
	for i, s := range steps {
		from, ok := Coerce(s.From)
		if !ok {
			return nil, fmt.Errorf("steps[%d]: invalid from version %q", i, s.From)
		}
		to, ok := Coerce(s.To)
		if !ok {
			return nil, fmt.Errorf("steps[%d]: invalid to version %q", i, s.To)
		}
		if Compare(from, to) >= 0 {
			return nil, fmt.Errorf("steps[%d]: %s -> %s does not move forward", i, from, to)
		}
		if s.Apply == nil {
			return nil, fmt.Errorf("steps[%d]: %s -> %s has no apply function", i, from, to)
		}
		sorted = append(sorted, Step{From: from, To: to, Apply: s.Apply})
	}

	sort.Slice(sorted, func(i, j int) bool {
		return Compare(sorted[i].From, sorted[j].From) < 0
	})

	versions := []string{sorted[0].From}
	for i, s := range sorted {
		if i > 0 && sorted[i-1].To != s.From {
			return nil, fmt.Errorf("migration chain %q is not contiguous: %s -> %s followed by %s -> %s",
				name, sorted[i-1].From, sorted[i-1].To, s.From, s.To)
		}
		versions = append(versions, s.To)
	}

	return &Chain{
		name:     name,
		steps:    sorted,
		versions: versions,
	}, nil
}

// MustNew is New for package-level chains declared at init time.
func MustNew(name string, steps ...Step) *Chain {
	c, err := New(name, steps...)
	if err != nil {
		panic(err)
	}
	return c
}

// Versions returns every version the chain knows, oldest first.
func (c *Chain) Versions() []string {
	out := make([]string, len(c.versions))
	copy(out, c.versions)
	return out
}

// Latest returns the newest version reachable through the chain.
func (c *Chain) Latest() string {
	return c.versions[len(c.versions)-1]
}

// NeedsMigration reports whether version is older than Latest.
func (c *Chain) NeedsMigration(version string) (bool, error) {
	idx, err := c.indexOf(version)
	if err != nil {
		return false, err
	}
	return idx < len(c.versions)-1, nil
}

// Migrate upgrades doc to opts.Target (default: Latest). The input is never
// mutated. A document already at the target version is returned as an
// identical copy.
func (c *Chain) Migrate(doc map[string]any, opts Options) (map[string]any, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: document is empty", ErrUnknownVersion)
	}

	raw, ok := doc[VersionKey].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing or non-string %q field", ErrUnknownVersion, VersionKey)
	}
	current, err := c.indexOf(raw)
	if err != nil {
		return nil, err
	}

	target := len(c.versions) - 1
	if opts.Target != "" {
		target, err = c.indexOf(opts.Target)
		if err != nil {
			return nil, fmt.Errorf("target: %w", err)
		}
	}

	if target < current {
		return nil, fmt.Errorf("%w: %s -> %s", ErrDowngradeUnsupported, c.versions[current], c.versions[target])
	}

	logger := log.WithComponent("migration").With("chain", c.name)
	if opts.Debug {
		logger.Info("migrating document", "from", c.versions[current], "to", c.versions[target])
	}

	work, _ := Clone(doc).(map[string]any)
	for i := current; i < target; i++ {
		step := c.steps[i]
		next, err := applyStep(step, work)
		if err != nil {
			return nil, err
		}
		next[VersionKey] = step.To
		work = next

		if opts.Debug {
			logger.Info("migrated document", "from", step.From, "to", step.To)
		}
	}

	return work, nil
}

func applyStep(step Step, doc map[string]any) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &StepError{From: step.From, To: step.To, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err = step.Apply(doc)
	if err != nil {
		return nil, &StepError{From: step.From, To: step.To, Err: err}
	}
	if out == nil {
		return nil, &StepError{From: step.From, To: step.To, Err: errors.New("step returned no document")}
	}
	return out, nil
}

func (c *Chain) indexOf(version string) (int, error) {
	coerced, ok := Coerce(version)
	if ok {
		for i, v := range c.versions {
			if v == coerced {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownVersion, version, strings.Join(c.versions, ", "))
}

var looseVersion = regexp.MustCompile(`(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

// Coerce turns loose version strings ("1", "v2.0", "3.0.0-beta") into plain
// MAJOR.MINOR.PATCH. Prerelease and build suffixes are dropped.
func Coerce(version string) (string, bool) {
	m := looseVersion.FindStringSubmatch(strings.TrimSpace(version))
	if m == nil {
		return "", false
	}
	parts := []string{m[1], "0", "0"}
	if m[2] != "" {
		parts[1] = m[2]
	}
	if m[3] != "" {
		parts[2] = m[3]
	}
	canonical := semver.Canonical("v" + strings.Join(parts, "."))
	if canonical == "" {
		return "", false
	}
	return strings.TrimPrefix(canonical, "v"), true
}

// Compare orders two coerced versions like semver.Compare.
func Compare(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}
