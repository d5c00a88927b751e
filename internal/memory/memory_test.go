package memory

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/lunabadge/luna/internal/db"
	"github.com/lunabadge/luna/internal/logging"
	"github.com/lunabadge/luna/internal/orchestrator"
)

func openTestStore(t *testing.T, now func() time.Time) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "luna.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	s, err := New(database, WithLogger(logging.Nop()), WithClock(now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func steppingClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

func TestNewRequiresDB(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil db")
	}
}

func TestSaveNavigationMemory(t *testing.T) {
	s := openTestStore(t, steppingClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	paths := []struct {
		path *orchestrator.Path
		dest string
	}{
		{&orchestrator.Path{Distance: 20, Direction: "左侧", Nodes: []string{"lobby", "corridor"}}, "toilet"},
		{&orchestrator.Path{Destination: "elevator", Distance: 35}, ""},
		{&orchestrator.Path{Distance: 12, Nodes: []string{"hall"}}, "toilet"},
	}
	for _, p := range paths {
		if err := s.SaveNavigationMemory(ctx, p.path, p.dest); err != nil {
			t.Fatalf("SaveNavigationMemory: %v", err)
		}
	}

	navs, err := s.RecentNavigations(ctx, 10)
	if err != nil {
		t.Fatalf("RecentNavigations: %v", err)
	}
	if len(navs) != 3 {
		t.Fatalf("navigations = %d, want 3", len(navs))
	}
	if navs[0].Destination != "toilet" || navs[0].Distance != 12 {
		t.Errorf("newest = %+v", navs[0])
	}
	if navs[1].Destination != "elevator" {
		t.Errorf("destination should fall back to path destination, got %q", navs[1].Destination)
	}
	if len(navs[1].Nodes) != 0 {
		t.Errorf("nodes = %v, want empty", navs[1].Nodes)
	}

	last, ok, err := s.LastNavigation(ctx, "toilet")
	if err != nil || !ok {
		t.Fatalf("LastNavigation = %v, %v", ok, err)
	}
	if !slices.Equal(last.Nodes, []string{"hall"}) {
		t.Errorf("last toilet route = %v", last.Nodes)
	}
	if _, ok, err := s.LastNavigation(ctx, "pharmacy"); ok || err != nil {
		t.Errorf("LastNavigation(pharmacy) = %v, %v", ok, err)
	}

	limited, err := s.RecentNavigations(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("RecentNavigations(1) = %d, %v", len(limited), err)
	}
}

func TestSaveNavigationMemoryInvalid(t *testing.T) {
	s := openTestStore(t, time.Now)
	ctx := context.Background()

	if err := s.SaveNavigationMemory(ctx, nil, "toilet"); err == nil {
		t.Error("expected error for nil path")
	}
	if err := s.SaveNavigationMemory(ctx, &orchestrator.Path{}, ""); err == nil {
		t.Error("expected error for empty destination")
	}
}

func TestSavePathMemory(t *testing.T) {
	s := openTestStore(t, steppingClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	scenes := []orchestrator.Scene{
		{Description: "entrance", Labels: []string{"door"}},
		{Description: "stairs ahead", Labels: []string{"stairs"}},
	}
	if err := s.SavePathMemory(ctx, scenes); err != nil {
		t.Fatalf("SavePathMemory: %v", err)
	}
	if err := s.SavePathMemory(ctx, nil); err != nil {
		t.Fatalf("SavePathMemory(nil): %v", err)
	}

	got, err := s.PathMemories(ctx, 0)
	if err != nil {
		t.Fatalf("PathMemories: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("path memories = %d, want 2", len(got))
	}
	if len(got[0].Scenes) != 0 {
		t.Errorf("newest should be the empty memory, got %d scenes", len(got[0].Scenes))
	}
	if len(got[1].Scenes) != 2 || got[1].Scenes[1].Description != "stairs ahead" {
		t.Errorf("scenes = %+v", got[1].Scenes)
	}
}
