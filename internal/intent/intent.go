// Package intent classifies recognized speech into user intents and maps
// detector class labels to visual signals.
//
// Matching is keyword based. The winning intent is the one whose matched
// keyword covers the largest share of the input; ties go to the intent
// listed first in the vocabulary.
package intent

import (
	"strings"
	"unicode/utf8"
)

// Kind is a user intent.
type Kind string

const (
	FindToilet      Kind = "find_toilet"
	FindElevator    Kind = "find_elevator"
	FindDestination Kind = "find_destination"
	RememberPath    Kind = "remember_path"
	StartNavigation Kind = "start_navigation"
	Cancel          Kind = "cancel"
	Unknown         Kind = "unknown"
)

// UnknownConfidence is reported when no keyword matches.
const UnknownConfidence = 0.1

// Kinds lists every known intent except Unknown, in default priority order.
func Kinds() []Kind {
	return []Kind{FindToilet, FindElevator, FindDestination, RememberPath, StartNavigation, Cancel}
}

func (k Kind) Valid() bool {
	switch k {
	case FindToilet, FindElevator, FindDestination, RememberPath, StartNavigation, Cancel, Unknown:
		return true
	}
	return false
}

// Intent is the classification of one utterance.
type Intent struct {
	Kind        Kind
	Confidence  float64
	Keyword     string
	Destination string // set for FindDestination when one could be extracted
}

// Classifier turns text into an Intent.
type Classifier interface {
	Classify(text string) Intent
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(text string) Intent

func (f ClassifierFunc) Classify(text string) Intent { return f(text) }

// KeywordClassifier matches against a Vocabulary's intent keyword tables.
type KeywordClassifier struct {
	rules     []Rule
	extractor *Extractor
}

// NewKeywordClassifier builds a classifier from v. A nil v uses
// DefaultVocabulary.
func NewKeywordClassifier(v *Vocabulary) (*KeywordClassifier, error) {
	if v == nil {
		v = DefaultVocabulary()
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	ex, err := NewExtractor(v.Destinations)
	if err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(v.Intents))
	for _, r := range v.Intents {
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		rules = append(rules, Rule{Intent: r.Intent, Keywords: kws})
	}
	return &KeywordClassifier{rules: rules, extractor: ex}, nil
}

// Classify scores each rule by the first of its keywords that beats the
// best confidence so far. Confidence is keyword length over text length,
// both in runes.
func (c *KeywordClassifier) Classify(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	total := utf8.RuneCountInString(lower)
	if total == 0 {
		return Intent{Kind: Unknown, Confidence: UnknownConfidence}
	}

	best := Intent{Kind: Unknown}
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			confidence := float64(utf8.RuneCountInString(kw)) / float64(total)
			if confidence > best.Confidence {
				best = Intent{Kind: rule.Intent, Confidence: confidence, Keyword: kw}
				break
			}
		}
	}

	if best.Kind == Unknown {
		return Intent{Kind: Unknown, Confidence: UnknownConfidence}
	}
	if best.Kind == FindDestination {
		best.Destination = c.extractor.Extract(text)
	}
	return best
}

// ExtractDestination runs the classifier's destination extractor.
func (c *KeywordClassifier) ExtractDestination(text string) string {
	return c.extractor.Extract(text)
}

// Default returns a classifier over DefaultVocabulary.
func Default() *KeywordClassifier {
	c, err := NewKeywordClassifier(DefaultVocabulary())
	if err != nil {
		panic("intent: default vocabulary invalid: " + err.Error())
	}
	return c
}
