package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestMemoryLogger_LogAssignsIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger(10)
	ev := &Event{Action: ActionCreate, Username: "ada", Actor: ActorAnonymous, StatusCode: 201}
	if err := m.Log(ctx, ev); err != nil {
		t.Fatalf("log: %v", err)
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Fatalf("expected ID and timestamp to be assigned, got %+v", ev)
	}

	got, total, err := m.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(got) != 1 || got[0].ID != ev.ID {
		t.Fatalf("unexpected list result: total=%d %+v", total, got)
	}
}

func TestMemoryLogger_NilEvent(t *testing.T) {
	m := NewMemoryLogger(0)
	if err := m.Log(context.Background(), nil); err != nil {
		t.Fatalf("nil event: %v", err)
	}
	got, total, _ := m.List(context.Background(), ListOptions{})
	if total != 0 || got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v total=%d", got, total)
	}
}

func TestMemoryLogger_NewestFirstAndPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger(100)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = m.Log(ctx, &Event{Username: fmt.Sprintf("u%d", i), Action: ActionCreate, Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}

	got, total, _ := m.List(ctx, ListOptions{Limit: 2})
	if total != 5 || len(got) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(got), total)
	}
	if got[0].Username != "u4" || got[1].Username != "u3" {
		t.Fatalf("expected newest first, got %s,%s", got[0].Username, got[1].Username)
	}

	got, _, _ = m.List(ctx, ListOptions{Limit: 2, Offset: 4})
	if len(got) != 1 || got[0].Username != "u0" {
		t.Fatalf("expected [u0] at offset 4, got %+v", got)
	}
	got, _, _ = m.List(ctx, ListOptions{Offset: 10})
	if len(got) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(got))
	}
}

func TestMemoryLogger_Filters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger(10)
	_ = m.Log(ctx, &Event{Username: "ada", Action: ActionCreate})
	_ = m.Log(ctx, &Event{Username: "ada", Action: ActionUpdate, Fields: []string{"bio"}})
	_ = m.Log(ctx, &Event{Username: "grace", Action: ActionCreate})

	got, total, _ := m.List(ctx, ListOptions{Username: "ada"})
	if total != 2 || len(got) != 2 {
		t.Fatalf("expected 2 events for ada, got %d", total)
	}
	got, total, _ = m.List(ctx, ListOptions{Action: ActionUpdate})
	if total != 1 || got[0].Fields[0] != "bio" {
		t.Fatalf("expected one update on bio, got %+v", got)
	}
}

func TestMemoryLogger_CapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger(3)
	for i := 0; i < 7; i++ {
		_ = m.Log(ctx, &Event{Username: fmt.Sprintf("u%d", i)})
	}
	got, total, _ := m.List(ctx, ListOptions{})
	if total != 3 || len(got) != 3 {
		t.Fatalf("expected 3 retained events, got %d", total)
	}
	if got[0].Username != "u6" || got[2].Username != "u4" {
		t.Fatalf("expected u6..u4, got %s..%s", got[0].Username, got[2].Username)
	}
}

func TestMemoryLogger_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger(5)
	ev := &Event{Username: "ada", Fields: []string{"email"}}
	_ = m.Log(ctx, ev)
	ev.Fields[0] = "mutated"

	got, _, _ := m.List(ctx, ListOptions{})
	if got[0].Fields[0] != "email" {
		t.Fatalf("stored event must not alias caller's slice")
	}
	got[0].Username = "changed"
	again, _, _ := m.List(ctx, ListOptions{})
	if again[0].Username != "ada" {
		t.Fatalf("listed events must be copies")
	}
}

func TestMemoryLogger_LimitClamp(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger(MaxListLimit + 10)
	for i := 0; i < MaxListLimit+5; i++ {
		_ = m.Log(ctx, &Event{Username: "u"})
	}
	got, _, _ := m.List(ctx, ListOptions{Limit: MaxListLimit * 2})
	if len(got) != MaxListLimit {
		t.Fatalf("expected limit clamped to %d, got %d", MaxListLimit, len(got))
	}
}

func TestMemoryLogger_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger(1000)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			for j := 0; j < 50; j++ {
				if err := m.Log(ctx, &Event{Username: fmt.Sprintf("w%d", i)}); err != nil {
					return err
				}
				if _, _, err := m.List(ctx, ListOptions{Limit: 5}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent use: %v", err)
	}
	_, total, _ := m.List(context.Background(), ListOptions{})
	if total != 500 {
		t.Fatalf("expected 500 events, got %d", total)
	}
}
