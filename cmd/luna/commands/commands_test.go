package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lunabadge/luna/internal/app"
	"github.com/lunabadge/luna/internal/config"
	"github.com/lunabadge/luna/internal/logging"
)

type recordingSpeaker struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

func (s *recordingSpeaker) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.texts)
}

func newTestApp(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.LoadFromPaths(dir, "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.DB.Path = filepath.Join(dir, "luna.db")
	cfg.Bus.PollInterval = 10 * time.Millisecond

	a, err := app.New(cfg, append([]app.Option{app.WithLogger(logging.Nop())}, opts...)...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return a
}

func TestParseDetection(t *testing.T) {
	tests := []struct {
		in         string
		classes    []string
		confidence float64
	}{
		{"stairs", []string{"stairs"}, 1},
		{"stairs 0.8", []string{"stairs"}, 0.8},
		{"stairs,person 0.5", []string{"stairs", "person"}, 0.5},
		{"stairs person", []string{"stairs", "person"}, 1},
		{"  ", nil, 0},
	}

	for _, tt := range tests {
		classes, confidence := parseDetection(tt.in)
		if !slices.Equal(classes, tt.classes) || confidence != tt.confidence {
			t.Errorf("parseDetection(%q) = %v, %v; want %v, %v", tt.in, classes, confidence, tt.classes, tt.confidence)
		}
	}
}

func TestRunLoop(t *testing.T) {
	orig := isInteractive
	isInteractive = func() bool { return false }
	defer func() { isInteractive = orig }()

	sp := &recordingSpeaker{}
	a := newTestApp(t, app.WithSpeaker(sp))

	in := strings.NewReader("我要去厕所\n\nsee sofa\n")
	var out bytes.Buffer
	if err := runLoop(context.Background(), a, in, &out); err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	if !slices.Contains(sp.spoken(), "请直行20米，左转后有洗手间") {
		t.Errorf("spoken = %v", sp.spoken())
	}
	if !strings.Contains(out.String(), "(nothing to report)") {
		t.Errorf("output = %q", out.String())
	}
}

func TestMonitorSourceSubmit(t *testing.T) {
	sp := &speechLog{}
	a := newTestApp(t, app.WithSpeaker(sp))
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(ctx)

	src := &monitorSource{app: a, speech: sp, ctx: ctx}
	reply, err := src.Submit(ctx, "我要去厕所")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if reply != "find_toilet: 请直行20米，左转后有洗手间" {
		t.Errorf("reply = %q", reply)
	}

	snap := src.Snapshot()
	if snap.Health.Total != 3 || len(snap.Modules) != 3 {
		t.Errorf("snapshot health = %+v, modules = %d", snap.Health, len(snap.Modules))
	}
	if snap.Modules[0].Name != app.ModuleEventBus {
		t.Errorf("first module = %s, want %s", snap.Modules[0].Name, app.ModuleEventBus)
	}
	if snap.Task == "" {
		t.Error("expected a current navigation task")
	}
}

func TestGenerateDefaultConfigLoads(t *testing.T) {
	dir := t.TempDir()
	vocab := filepath.Join(dir, vocabularyFileName)
	if err := os.WriteFile(filepath.Join(dir, config.ProjectConfigName), []byte(generateDefaultConfig(vocab)), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.LoadFromPaths(dir, "")
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.Intent.VocabularyFile != vocab {
		t.Errorf("VocabularyFile = %q, want %q", cfg.Intent.VocabularyFile, vocab)
	}
	if r := cfg.Navigation.Facilities["elevator"]; r.Distance != 30 {
		t.Errorf("elevator route = %+v", r)
	}
}

func TestFormatLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "DBG",
		"info":  "INF",
		"warn":  "WRN",
		"error": "ERR",
		"fatal": "FAT",
		"":      "???",
	}
	for in, want := range tests {
		if got := formatLogLevel(in); got != want {
			t.Errorf("formatLogLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReadLastLinesFiltersComponent(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, logging.FileName(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	newer := filepath.Join(dir, logging.FileName(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))

	write := func(path string, lines ...string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write(older,
		`{"level":"info","component":"bus","message":"bus started"}`,
		`{"level":"info","component":"registry","message":"module started"}`,
	)
	write(newer,
		`{"level":"warn","component":"bus","message":"event dropped"}`,
		`plain text line`,
	)

	files, err := getLogFiles(dir)
	if err != nil || len(files) != 2 {
		t.Fatalf("getLogFiles = %v, %v", files, err)
	}

	onlyBus := func(e logEntry) bool { return e.Component == "bus" }
	lines := readLastLines(files, 10, onlyBus)
	if len(lines) != 3 {
		t.Fatalf("lines = %v, want 3", lines)
	}
	if !strings.Contains(lines[0], "bus started") || lines[2] != "plain text line" {
		t.Errorf("lines out of order: %v", lines)
	}

	if got := readLastLines(files, 1, nil); len(got) != 1 || got[0] != "plain text line" {
		t.Errorf("tail 1 = %v", got)
	}
}

func TestPrintLogLine(t *testing.T) {
	var out bytes.Buffer
	printLogLine(&out, `{"level":"error","component":"orchestrator","message":"tts failed","error":"device busy","time":"2026-03-01T09:00:00Z"}`)
	got := out.String()
	for _, want := range []string{"ERR", "[orchestrator]", "tts failed", "error=device busy"} {
		if !strings.Contains(got, want) {
			t.Errorf("printLogLine output %q missing %q", got, want)
		}
	}

	out.Reset()
	printLogLine(&out, "not json")
	if out.String() != "not json\n" {
		t.Errorf("raw line = %q", out.String())
	}
}
