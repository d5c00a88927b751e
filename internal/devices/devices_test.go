package devices

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/lunabadge/luna/internal/config"
	"github.com/lunabadge/luna/internal/logging"
)

func TestConsoleSpeaker(t *testing.T) {
	var buf bytes.Buffer
	at := time.Date(2026, 4, 1, 9, 30, 5, 0, time.UTC)
	s := NewConsoleSpeaker(&buf, WithPrefix("> "), WithTimestamps(func() time.Time { return at }))

	if err := s.Speak(context.Background(), "前方有台阶，请小心"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if got, want := buf.String(), "09:30:05 > 前方有台阶，请小心\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Speak(ctx, "ignored"); !errors.Is(err, context.Canceled) {
		t.Errorf("Speak with cancelled ctx = %v", err)
	}
}

func TestTextRecognizer(t *testing.T) {
	var r TextRecognizer
	got, err := r.Recognize(context.Background(), []byte("  我要去厕所\n"))
	if err != nil || got != "我要去厕所" {
		t.Errorf("Recognize = %q, %v", got, err)
	}
	if _, err := r.Recognize(context.Background(), []byte("   ")); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("Recognize(blank) = %v, want ErrEmptyAudio", err)
	}
}

func TestStaticNavigator(t *testing.T) {
	n := NewStaticNavigator(config.NavigationConfig{
		Facilities: map[string]config.Route{
			"toilet": {Distance: 20, Direction: "左侧", Nodes: []string{"lobby", "toilet"}},
		},
		Destinations: map[string]config.Route{
			"3f":   {Distance: 60, Direction: "前方"},
			"3号诊室": {Distance: 45, Direction: "右侧"},
		},
	}, logging.Nop())
	ctx := context.Background()

	p, err := n.PlanPathToFacility(ctx, "toilet")
	if err != nil || p == nil {
		t.Fatalf("PlanPathToFacility(toilet) = %v, %v", p, err)
	}
	if p.Distance != 20 || !slices.Equal(p.Nodes, []string{"lobby", "toilet"}) {
		t.Errorf("toilet path = %+v", p)
	}
	p.Nodes[0] = "mutated"
	if again, _ := n.PlanPathToFacility(ctx, "toilet"); again.Nodes[0] != "lobby" {
		t.Error("returned nodes should not alias the route table")
	}

	if p, err := n.PlanPathToFacility(ctx, "elevator"); p != nil || err != nil {
		t.Errorf("PlanPathToFacility(elevator) = %v, %v, want nil, nil", p, err)
	}

	if p, _ := n.PlanPath(ctx, "3F"); p == nil || p.Distance != 60 || p.Destination != "3F" {
		t.Errorf("PlanPath(3F) = %+v", p)
	}
	if p, _ := n.PlanPath(ctx, "3号诊室"); p == nil || p.Direction != "右侧" {
		t.Errorf("PlanPath(3号诊室) = %+v", p)
	}
	if p, _ := n.PlanPath(ctx, "toilet"); p == nil || p.Distance != 20 {
		t.Errorf("PlanPath should fall back to facilities, got %+v", p)
	}
	if p, _ := n.PlanPath(ctx, "pharmacy"); p != nil {
		t.Errorf("PlanPath(pharmacy) = %+v, want nil", p)
	}
}
