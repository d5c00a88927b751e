package intent

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidVocabulary is returned for vocabularies naming unknown intents
// or carrying no rules.
var ErrInvalidVocabulary = errors.New("invalid vocabulary")

// Rule lists the keywords that select an intent.
type Rule struct {
	Intent   Kind     `yaml:"intent"`
	Keywords []string `yaml:"keywords"`
}

// VisualRule lists the class-label keywords that select a signal.
type VisualRule struct {
	Signal   Signal   `yaml:"signal"`
	Keywords []string `yaml:"keywords"`
}

// Vocabulary holds every keyword table. Rule order is significant: earlier
// rules win ties.
type Vocabulary struct {
	Intents      []Rule            `yaml:"intents"`
	Visual       []VisualRule      `yaml:"visual"`
	Destinations DestinationRules  `yaml:"destinations"`
	Feedback     map[Signal]string `yaml:"feedback"`
}

// DefaultVocabulary returns the built-in bilingual tables.
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		Intents: []Rule{
			{Intent: FindToilet, Keywords: []string{"厕所", "卫生间", "洗手间", "toilet", "washroom"}},
			{Intent: FindElevator, Keywords: []string{"电梯", "elevator", "lift"}},
			{Intent: FindDestination, Keywords: []string{"去", "到", "找", "go to", "find"}},
			{Intent: RememberPath, Keywords: []string{"记住", "记录", "remember", "record"}},
			{Intent: StartNavigation, Keywords: []string{"开始导航", "启动导航", "start navigation"}},
			{Intent: Cancel, Keywords: []string{"取消", "停止", "cancel", "stop"}},
		},
		Visual: []VisualRule{
			{Signal: SignalStairs, Keywords: []string{"stairs", "楼梯", "台阶"}},
			{Signal: SignalElevator, Keywords: []string{"elevator", "电梯"}},
			{Signal: SignalToilet, Keywords: []string{"toilet", "卫生间", "洗手间", "厕所"}},
			{Signal: SignalExit, Keywords: []string{"exit", "出口", "emergency"}},
			{Signal: SignalObstacle, Keywords: []string{"obstacle", "障碍物", "barrier"}},
		},
		Destinations: DestinationRules{
			Patterns: []string{`\d+号诊室`, `\d+室`, `\d+F`, `\d+楼`},
			Keywords: []string{"诊室", "病房", "大厅", "挂号", "缴费", "取药"},
		},
		Feedback: map[Signal]string{
			SignalStairs:   "前方有台阶，请小心",
			SignalElevator: "已到达电梯，请注意看标识",
			SignalToilet:   "左侧有卫生间标识",
			SignalExit:     "前方有出口标识",
			SignalObstacle: "前方有障碍物，请绕行",
		},
	}
}

// LoadVocabulary reads a YAML vocabulary file. Sections missing from the
// file keep their defaults.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary decodes YAML over DefaultVocabulary.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var file Vocabulary
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing vocabulary: %w", err)
	}

	v := DefaultVocabulary()
	if len(file.Intents) > 0 {
		v.Intents = file.Intents
	}
	if len(file.Visual) > 0 {
		v.Visual = file.Visual
	}
	if len(file.Destinations.Patterns) > 0 {
		v.Destinations.Patterns = file.Destinations.Patterns
	}
	if len(file.Destinations.Keywords) > 0 {
		v.Destinations.Keywords = file.Destinations.Keywords
	}
	for sig, text := range file.Feedback {
		v.Feedback[sig] = text
	}

	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// Validate checks that every rule names a known intent.
func (v *Vocabulary) Validate() error {
	if len(v.Intents) == 0 {
		return fmt.Errorf("%w: no intent rules", ErrInvalidVocabulary)
	}
	seen := make(map[Kind]bool, len(v.Intents))
	for _, r := range v.Intents {
		if !r.Intent.Valid() || r.Intent == Unknown {
			return fmt.Errorf("%w: unknown intent %q", ErrInvalidVocabulary, r.Intent)
		}
		if seen[r.Intent] {
			return fmt.Errorf("%w: intent %q listed twice", ErrInvalidVocabulary, r.Intent)
		}
		seen[r.Intent] = true
	}
	for _, r := range v.Visual {
		if r.Signal == "" || r.Signal == SignalSafe {
			return fmt.Errorf("%w: visual rule with signal %q", ErrInvalidVocabulary, r.Signal)
		}
	}
	return nil
}
