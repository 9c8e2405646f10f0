package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/garloff/jitsi-whisper-bridge/internal/config"
)

// commonKey holds patterns applied regardless of the declared language
const commonKey = "common"

// RuleSet is an immutable mapping from base language tag to an ordered list
// of compiled matchers, plus a common set applied to every result. Built once
// at startup and safe for unsynchronized concurrent reads.
type RuleSet struct {
	enabled   bool
	minLength int
	byLang    map[string][]*regexp.Regexp
	common    []*regexp.Regexp
}

// NewRuleSet compiles the configured pattern table. Patterns are matched
// case-insensitively against the trimmed transcript; an invalid pattern is a
// startup failure.
func NewRuleSet(cfg config.FilterConfig) (*RuleSet, error) {
	rs := &RuleSet{
		enabled:   cfg.Enabled,
		minLength: cfg.MinLength,
		byLang:    make(map[string][]*regexp.Regexp, len(cfg.Patterns)),
	}

	for lang, patterns := range cfg.Patterns {
		compiled := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q for language %q: %w", p, lang, err)
			}
			compiled = append(compiled, re)
		}

		if lang == commonKey {
			rs.common = compiled
		} else {
			rs.byLang[lang] = compiled
		}
	}

	return rs, nil
}

// PatternCount returns the total number of compiled patterns
func (r *RuleSet) PatternCount() int {
	n := len(r.common)
	for _, patterns := range r.byLang {
		n += len(patterns)
	}
	return n
}

// LanguageCount returns the number of languages with dedicated patterns
func (r *RuleSet) LanguageCount() int {
	return len(r.byLang)
}

// ShouldSuppress decides whether a transcript is a known recognition
// artifact. Empty and sub-minimum texts are suppressed outright; otherwise
// the normalized text is checked against the declared language's patterns
// and then the common set. Unknown language tags fall back to the common set
// only.
func (r *RuleSet) ShouldSuppress(text, language string) bool {
	if !r.enabled {
		return false
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return true
	}

	if len([]rune(normalized)) < r.minLength {
		return true
	}

	// en-US and en share one rule list.
	base, _, _ := strings.Cut(language, "-")

	for _, re := range r.byLang[base] {
		if re.MatchString(normalized) {
			return true
		}
	}

	for _, re := range r.common {
		if re.MatchString(normalized) {
			return true
		}
	}

	return false
}
