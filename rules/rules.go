// Package rules evaluates transcript and on-screen text against a set of
// keyword and pattern compliance rules.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/pelletier/go-toml/v2"
	"github.com/teranos/brandguard/audit"
	"github.com/teranos/brandguard/errors"
	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRules []byte

// Rule matches either any of its keywords (case-insensitive substring) or
// its regular expression.
type Rule struct {
	ID          string         `yaml:"id" toml:"id"`
	Category    string         `yaml:"category" toml:"category"`
	Severity    audit.Severity `yaml:"severity" toml:"severity"`
	Description string         `yaml:"description" toml:"description"`
	Keywords    []string       `yaml:"keywords" toml:"keywords"`
	Pattern     string         `yaml:"pattern" toml:"pattern"`

	re *regexp.Regexp
}

// Set is an immutable, compiled collection of rules
type Set struct {
	Rules []Rule `yaml:"rules" toml:"rules"`
}

// Format of a rules document
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks a format from the file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", errors.Newf("unsupported rules file extension %q", filepath.Ext(path))
	}
}

// Parse decodes and compiles a rules document
func Parse(data []byte, format Format) (*Set, error) {
	var set Set
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &set)
	case FormatTOML:
		err = toml.Unmarshal(data, &set)
	default:
		return nil, errors.Newf("unknown rules format %q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s rules", format)
	}
	if err := set.compile(); err != nil {
		return nil, err
	}
	return &set, nil
}

// LoadFile reads and compiles a rules file
func LoadFile(path string) (*Set, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read rules file %s", path)
	}
	return Parse(data, format)
}

// Default returns the embedded baseline rule set
func Default() *Set {
	set, err := Parse(defaultRules, FormatYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded rules invalid: %v", err))
	}
	return set
}

func (s *Set) compile() error {
	seen := make(map[string]bool, len(s.Rules))
	for i := range s.Rules {
		r := &s.Rules[i]
		if r.ID == "" {
			return errors.Newf("rule %d has no id", i)
		}
		if seen[r.ID] {
			return errors.Newf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if !r.Severity.Valid() {
			return errors.Newf("rule %s: severity must be critical or warning, got %q", r.ID, r.Severity)
		}
		if len(r.Keywords) == 0 && r.Pattern == "" {
			return errors.Newf("rule %s: needs keywords or a pattern", r.ID)
		}
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return errors.Wrapf(err, "rule %s: bad pattern", r.ID)
			}
			r.re = re
		}
		for j, kw := range r.Keywords {
			r.Keywords[j] = strings.ToLower(kw)
		}
	}
	return nil
}

// Len returns the number of rules
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rules)
}

// match returns the matched fragment, or "" if r does not apply to text
func (r *Rule) match(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range r.Keywords {
		if kw != "" && strings.Contains(lower, kw) {
			return kw
		}
	}
	if r.re != nil {
		return r.re.FindString(text)
	}
	return ""
}

// Evaluate checks text from one source (e.g. "transcript", "on-screen text")
// and returns one finding per matching rule, in rule order.
func (s *Set) Evaluate(source, text string) []audit.Finding {
	if s == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	var findings []audit.Finding
	for i := range s.Rules {
		r := &s.Rules[i]
		if m := r.match(text); m != "" {
			findings = append(findings, audit.Finding{
				Category:    r.Category,
				Description: fmt.Sprintf("%s (%s matched %q)", r.Description, source, m),
				Severity:    r.Severity,
			})
		}
	}
	return findings
}

// Active holds the rule set currently in force; safe for concurrent use
type Active struct {
	p atomic.Pointer[Set]
}

// NewActive starts with set
func NewActive(set *Set) *Active {
	a := &Active{}
	a.p.Store(set)
	return a
}

// Load returns the rule set in force
func (a *Active) Load() *Set { return a.p.Load() }

// Store swaps in a new rule set
func (a *Active) Store(set *Set) { a.p.Store(set) }
