package intent

import "strings"

// Signal is a visual event derived from detector class labels.
type Signal string

const (
	SignalStairs   Signal = "stairs_detected"
	SignalElevator Signal = "elevator_detected"
	SignalToilet   Signal = "toilet_sign"
	SignalExit     Signal = "exit_sign"
	SignalObstacle Signal = "obstacle_detected"
	SignalSafe     Signal = "safe"
)

// VisualMatcher maps class labels to signals by keyword-in-label matching.
type VisualMatcher struct {
	rules []VisualRule
}

// NewVisualMatcher builds a matcher from v. A nil v uses DefaultVocabulary.
func NewVisualMatcher(v *Vocabulary) *VisualMatcher {
	if v == nil {
		v = DefaultVocabulary()
	}
	rules := make([]VisualRule, 0, len(v.Visual))
	for _, r := range v.Visual {
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if kw = strings.ToLower(kw); kw != "" {
				kws = append(kws, kw)
			}
		}
		rules = append(rules, VisualRule{Signal: r.Signal, Keywords: kws})
	}
	return &VisualMatcher{rules: rules}
}

// Match returns the signal of the first rule with a keyword contained in
// any class label. Labels that match nothing yield SignalSafe.
func (m *VisualMatcher) Match(classes []string) Signal {
	for _, rule := range m.rules {
		for _, kw := range rule.Keywords {
			for _, cls := range classes {
				if strings.Contains(strings.ToLower(cls), kw) {
					return rule.Signal
				}
			}
		}
	}
	return SignalSafe
}
