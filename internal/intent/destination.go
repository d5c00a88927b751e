package intent

import (
	"fmt"
	"regexp"
	"strings"
)

// DestinationRules describe how a destination is pulled out of an
// utterance: patterns are tried in order, then bare keywords.
type DestinationRules struct {
	Patterns []string `yaml:"patterns"`
	Keywords []string `yaml:"keywords"`
}

// Extractor finds destination names such as room numbers in text.
type Extractor struct {
	patterns []*regexp.Regexp
	keywords []string
}

// NewExtractor compiles rules.
func NewExtractor(rules DestinationRules) (*Extractor, error) {
	ex := &Extractor{keywords: rules.Keywords}
	for _, p := range rules.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling destination pattern %q: %w", p, err)
		}
		ex.patterns = append(ex.patterns, re)
	}
	return ex, nil
}

// Extract returns the first pattern match, or the first keyword contained
// in text, or "".
func (e *Extractor) Extract(text string) string {
	for _, re := range e.patterns {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	for _, kw := range e.keywords {
		if kw != "" && strings.Contains(text, kw) {
			return kw
		}
	}
	return ""
}
