package intent

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func newDefaultClassifier(t *testing.T) *KeywordClassifier {
	t.Helper()
	c, err := NewKeywordClassifier(nil)
	if err != nil {
		t.Fatalf("NewKeywordClassifier: %v", err)
	}
	return c
}

func TestClassify(t *testing.T) {
	c := newDefaultClassifier(t)

	tests := []struct {
		text        string
		want        Kind
		keyword     string
		destination string
	}{
		{text: "我要去厕所", want: FindToilet, keyword: "厕所"},
		{text: "Where is the TOILET", want: FindToilet, keyword: "toilet"},
		{text: "电梯在哪里", want: FindElevator, keyword: "电梯"},
		{text: "find the lift", want: FindElevator, keyword: "lift"},
		{text: "带我去3号诊室", want: FindDestination, keyword: "去", destination: "3号诊室"},
		{text: "去3楼", want: FindDestination, keyword: "去", destination: "3楼"},
		{text: "我想去挂号", want: FindDestination, keyword: "去", destination: "挂号"},
		{text: "去那边", want: FindDestination, keyword: "去"},
		{text: "记住这条路", want: RememberPath, keyword: "记住"},
		{text: "开始导航", want: StartNavigation, keyword: "开始导航"},
		{text: "取消", want: Cancel, keyword: "取消"},
		{text: "hello there", want: Unknown},
		{text: "", want: Unknown},
		{text: "   ", want: Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := c.Classify(tt.text)
			if got.Kind != tt.want {
				t.Fatalf("Classify(%q).Kind = %s, want %s", tt.text, got.Kind, tt.want)
			}
			if got.Keyword != tt.keyword {
				t.Errorf("Keyword = %q, want %q", got.Keyword, tt.keyword)
			}
			if got.Destination != tt.destination {
				t.Errorf("Destination = %q, want %q", got.Destination, tt.destination)
			}
		})
	}
}

func TestClassifyConfidenceCountsRunes(t *testing.T) {
	c := newDefaultClassifier(t)

	got := c.Classify("我要去厕所")
	if math.Abs(got.Confidence-0.4) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.4 (2 of 5 runes)", got.Confidence)
	}

	if got := c.Classify("unrelated"); got.Confidence != UnknownConfidence {
		t.Errorf("unknown confidence = %v, want %v", got.Confidence, UnknownConfidence)
	}
}

func TestClassifyTieFavorsEarlierIntent(t *testing.T) {
	c := newDefaultClassifier(t)

	// Both keywords cover half the text.
	got := c.Classify("电梯取消")
	if got.Kind != FindElevator {
		t.Errorf("tie resolved to %s, want %s", got.Kind, FindElevator)
	}
}

func TestClassifierFunc(t *testing.T) {
	var c Classifier = ClassifierFunc(func(string) Intent { return Intent{Kind: Cancel, Confidence: 1} })
	if got := c.Classify("anything"); got.Kind != Cancel {
		t.Errorf("Kind = %s", got.Kind)
	}
}

func TestExtractor(t *testing.T) {
	ex, err := NewExtractor(DefaultVocabulary().Destinations)
	if err != nil {
		t.Fatal(err)
	}
	tests := map[string]string{
		"去12号诊室":  "12号诊室",
		"去305室":   "305室",
		"到2F":     "2F",
		"去5楼":     "5楼",
		"去缴费":     "缴费",
		"去病房看看":   "病房",
		"随便走走":    "",
		"带我去号诊室": "诊室",
	}
	for text, want := range tests {
		if got := ex.Extract(text); got != want {
			t.Errorf("Extract(%q) = %q, want %q", text, got, want)
		}
	}

	if _, err := NewExtractor(DestinationRules{Patterns: []string{"("}}); err == nil {
		t.Error("expected error for bad pattern")
	}
}

func TestVisualMatcher(t *testing.T) {
	m := NewVisualMatcher(nil)

	tests := []struct {
		classes []string
		want    Signal
	}{
		{classes: []string{"person", "stairs"}, want: SignalStairs},
		{classes: []string{"Exit_Sign"}, want: SignalExit},
		{classes: []string{"卫生间标识"}, want: SignalToilet},
		{classes: []string{"road_barrier"}, want: SignalObstacle},
		{classes: []string{"toilet", "elevator"}, want: SignalElevator},
		{classes: []string{"person"}, want: SignalSafe},
		{classes: nil, want: SignalSafe},
	}
	for _, tt := range tests {
		if got := m.Match(tt.classes); got != tt.want {
			t.Errorf("Match(%v) = %s, want %s", tt.classes, got, tt.want)
		}
	}
}

func TestParseVocabulary(t *testing.T) {
	data := []byte(`
intents:
  - intent: cancel
    keywords: [算了, never mind]
  - intent: find_toilet
    keywords: [bathroom]
feedback:
  stairs_detected: "Careful, steps ahead"
`)
	v, err := ParseVocabulary(data)
	if err != nil {
		t.Fatalf("ParseVocabulary: %v", err)
	}
	if len(v.Intents) != 2 || v.Intents[0].Intent != Cancel {
		t.Errorf("intents = %+v", v.Intents)
	}
	if len(v.Visual) == 0 {
		t.Error("visual rules should fall back to defaults")
	}
	if v.Feedback[SignalStairs] != "Careful, steps ahead" {
		t.Errorf("feedback override = %q", v.Feedback[SignalStairs])
	}
	if v.Feedback[SignalExit] == "" {
		t.Error("default feedback lost")
	}

	c, err := NewKeywordClassifier(v)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Classify("Never Mind"); got.Kind != Cancel {
		t.Errorf("custom keyword resolved to %s", got.Kind)
	}
	if got := c.Classify("where is the bathroom"); got.Kind != FindToilet {
		t.Errorf("custom keyword resolved to %s", got.Kind)
	}
}

func TestParseVocabularyInvalid(t *testing.T) {
	tests := map[string]string{
		"unknown intent": "intents:\n  - intent: dance\n    keywords: [x]\n",
		"duplicate":      "intents:\n  - intent: cancel\n    keywords: [x]\n  - intent: cancel\n    keywords: [y]\n",
		"safe visual":    "visual:\n  - signal: safe\n    keywords: [x]\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseVocabulary([]byte(data)); !errors.Is(err, ErrInvalidVocabulary) {
				t.Errorf("error = %v, want ErrInvalidVocabulary", err)
			}
		})
	}

	if _, err := ParseVocabulary([]byte("intents: [")); err == nil {
		t.Error("expected YAML syntax error")
	}
}

func TestLoadVocabulary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	if err := os.WriteFile(path, []byte("destinations:\n  keywords: [药房]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	v, err := LoadVocabulary(path)
	if err != nil {
		t.Fatalf("LoadVocabulary: %v", err)
	}
	c, err := NewKeywordClassifier(v)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.ExtractDestination("去药房"); got != "药房" {
		t.Errorf("ExtractDestination = %q", got)
	}

	if _, err := LoadVocabulary(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
