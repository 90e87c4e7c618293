// Package storetest is a conformance suite for sessions.Store implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/climber-engine/mcp-server-go/mcp"
	"github.com/climber-engine/mcp-server-go/sessions"
	"github.com/google/uuid"
)

// StoreFactory creates a new, empty Store instance for testing.
type StoreFactory func(t *testing.T) sessions.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("Create_GetRoundTrip", func(t *testing.T) { testCreateGet(t, factory) })
	t.Run("Create_DuplicateID", func(t *testing.T) { testCreateDuplicate(t, factory) })
	t.Run("Get_Unknown", func(t *testing.T) { testGetUnknown(t, factory) })
	t.Run("Touch_AdvancesActivity", func(t *testing.T) { testTouchAdvances(t, factory) })
	t.Run("Touch_UnknownAndClosed", func(t *testing.T) { testTouchUnknownAndClosed(t, factory) })
	t.Run("Touch_CountsMessages", func(t *testing.T) { testTouchCountsMessages(t, factory) })
	t.Run("Close_Idempotent", func(t *testing.T) { testCloseIdempotent(t, factory) })
	t.Run("Close_ConcurrentSingleWinner", func(t *testing.T) { testCloseConcurrent(t, factory) })
	t.Run("Close_KeepsRecord", func(t *testing.T) { testCloseKeepsRecord(t, factory) })
	t.Run("List_PagesInCreationOrder", func(t *testing.T) { testListPaging(t, factory) })
	t.Run("Stats_CountsActive", func(t *testing.T) { testStats(t, factory) })
	t.Run("Ping", func(t *testing.T) { testPing(t, factory) })
}

func newSession(created time.Time) *sessions.Session {
	return &sessions.Session{
		MetaVersion:     1,
		ID:              uuid.NewString(),
		OwnerRef:        "owner-1",
		Status:          sessions.StatusActive,
		ProtocolVersion: mcp.ProtocolVersion,
		Client:          sessions.ClientInfo{Name: "client-a", Version: "0.1.0"},
		Capabilities:    mcp.Capabilities{Tools: true, Resources: true, Prompts: true},
		CreatedAt:       created,
		LastActivityAt:  created,
	}
}

func testCreateGet(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	in := newSession(now)
	if err := st.Create(ctx, in); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := st.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != in.ID || got.OwnerRef != in.OwnerRef || got.Status != sessions.StatusActive {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Capabilities != in.Capabilities {
		t.Fatalf("capabilities mismatch: got %+v want %+v", got.Capabilities, in.Capabilities)
	}
	if got.Client != in.Client {
		t.Fatalf("client mismatch: got %+v want %+v", got.Client, in.Client)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("created_at mismatch: got %v want %v", got.CreatedAt, now)
	}

	// Mutating the returned copy must not affect the stored record.
	got.Status = sessions.StatusClosed
	again, err := st.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Status != sessions.StatusActive {
		t.Fatalf("store leaked internal state through Get")
	}
}

func testCreateDuplicate(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()
	s := newSession(time.Now().UTC())
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.Create(ctx, s); !errors.Is(err, sessions.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func testGetUnknown(t *testing.T, factory StoreFactory) {
	st := factory(t)
	if _, err := st.Get(context.Background(), uuid.NewString()); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func testTouchAdvances(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Millisecond)
	s := newSession(start)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	later := start.Add(3 * time.Second)
	got, err := st.Touch(ctx, s.ID, later, 1)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if !got.LastActivityAt.Equal(later) {
		t.Fatalf("touch did not advance activity: got %v want %v", got.LastActivityAt, later)
	}

	// An older timestamp never moves activity backwards.
	if _, err := st.Touch(ctx, s.ID, start, 1); err != nil {
		t.Fatalf("touch older: %v", err)
	}
	stored, err := st.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.LastActivityAt.Equal(later) {
		t.Fatalf("activity moved backwards: %v", stored.LastActivityAt)
	}
}

func testTouchUnknownAndClosed(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := st.Touch(ctx, uuid.NewString(), now, 1); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	s := newSession(now)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := st.Close(ctx, s.ID, now); err != nil || !ok {
		t.Fatalf("close: ok=%v err=%v", ok, err)
	}
	if _, err := st.Touch(ctx, s.ID, now.Add(time.Second), 1); !errors.Is(err, sessions.ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
}

func testTouchCountsMessages(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	s := newSession(now)
	s.AgentID = "agent-7"
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i, n := range []int{1, 1, 3, 0} {
		if _, err := st.Touch(ctx, s.ID, now.Add(time.Duration(i)*time.Second), n); err != nil {
			t.Fatalf("touch %d: %v", i, err)
		}
	}
	got, err := st.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MessageCount != 5 {
		t.Fatalf("message count = %d, want 5", got.MessageCount)
	}
	if got.AgentID != "agent-7" {
		t.Fatalf("agent id = %q", got.AgentID)
	}

	if _, err := st.Close(ctx, s.ID, now); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := st.Touch(ctx, s.ID, now.Add(time.Minute), 1); !errors.Is(err, sessions.ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
	got, err = st.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get after close: %v", err)
	}
	if got.MessageCount != 5 {
		t.Fatalf("rejected touch changed the count: %d", got.MessageCount)
	}
}

func testCloseIdempotent(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := st.Close(ctx, uuid.NewString(), now)
	if err != nil || ok {
		t.Fatalf("closing an unknown id: ok=%v err=%v", ok, err)
	}

	s := newSession(now)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := st.Close(ctx, s.ID, now); err != nil || !ok {
		t.Fatalf("first close: ok=%v err=%v", ok, err)
	}
	if ok, err := st.Close(ctx, s.ID, now); err != nil || ok {
		t.Fatalf("second close: ok=%v err=%v", ok, err)
	}
}

func testCloseConcurrent(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()
	s := newSession(time.Now().UTC())
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := st.Close(ctx, s.ID, time.Now().UTC())
			if err != nil {
				errs <- err
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("close: %v", err)
	}
	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one winning close, got %d", got)
	}
}

func testCloseKeepsRecord(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	s := newSession(now)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	closedAt := now.Add(time.Minute)
	if _, err := st.Close(ctx, s.ID, closedAt); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, err := st.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get after close: %v", err)
	}
	if got.Status != sessions.StatusClosed {
		t.Fatalf("expected closed status, got %q", got.Status)
	}
	if !got.ClosedAt.Equal(closedAt) {
		t.Fatalf("closed_at mismatch: got %v want %v", got.ClosedAt, closedAt)
	}
}

func testListPaging(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	var ids []string
	for i := 0; i < 5; i++ {
		s := newSession(base.Add(time.Duration(i) * time.Second))
		s.OwnerRef = fmt.Sprintf("owner-%d", i)
		if err := st.Create(ctx, s); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, s.ID)
	}

	page, err := st.List(ctx, 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 5 {
		t.Fatalf("expected total 5, got %d", page.Total)
	}
	if len(page.Items) != 2 || page.Items[0].ID != ids[1] || page.Items[1].ID != ids[2] {
		t.Fatalf("unexpected window: %+v", page.Items)
	}

	page, err = st.List(ctx, 10, 2)
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if len(page.Items) != 0 || page.Total != 5 {
		t.Fatalf("expected empty window past end, got %d items total %d", len(page.Items), page.Total)
	}

	page, err = st.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list default limit: %v", err)
	}
	if len(page.Items) != 5 {
		t.Fatalf("expected default limit to return all 5, got %d", len(page.Items))
	}
}

func testStats(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()
	now := time.Now().UTC()
	a, b := newSession(now), newSession(now)
	for _, s := range []*sessions.Session{a, b} {
		if err := st.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := st.Close(ctx, a.ID, now); err != nil {
		t.Fatalf("close: %v", err)
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Active != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func testPing(t *testing.T, factory StoreFactory) {
	st := factory(t)
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
