package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/unchainme/internal/app/system/notify"
	"go.uber.org/zap"
)

type delivery struct {
	userID string
	ev     notify.Event
}

type recordingSink struct {
	mu   sync.Mutex
	got  []delivery
	fail bool
}

func (s *recordingSink) Deliver(_ context.Context, userID string, ev notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, delivery{userID: userID, ev: ev})
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *recordingSink) deliveries() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.got...)
}

func TestDispatcher_DeliversToEveryUserAndSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	d := notify.New(8, zap.NewNop(), a, b)
	d.Start()

	d.Emit(notify.Event{Kind: notify.KindApplicationCreated, UserIDs: []string{"u1", "u2"}, Title: "Новая заявка"})
	d.Stop()

	for name, s := range map[string]*recordingSink{"a": a, "b": b} {
		got := s.deliveries()
		if len(got) != 2 {
			t.Fatalf("sink %s: got %d deliveries, want 2", name, len(got))
		}
		if got[0].userID != "u1" || got[1].userID != "u2" {
			t.Errorf("sink %s: wrong recipients %+v", name, got)
		}
		if got[0].ev.ID == "" || got[0].ev.At.IsZero() {
			t.Errorf("sink %s: expected id and timestamp to be stamped", name)
		}
	}
}

func TestDispatcher_EmitNeverBlocks(t *testing.T) {
	sink := &recordingSink{}
	d := notify.New(1, zap.NewNop(), sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Emit(notify.Event{Kind: notify.KindTaskDeleted, UserIDs: []string{"u"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
	if d.Dropped() != 9 {
		t.Errorf("Dropped = %d, want 9", d.Dropped())
	}

	d.Start()
	d.Stop()
	if n := len(sink.deliveries()); n != 1 {
		t.Errorf("delivered %d, want 1 queued event", n)
	}
}

func TestDispatcher_SinkFailureDoesNotStopDelivery(t *testing.T) {
	bad, good := &recordingSink{fail: true}, &recordingSink{}
	d := notify.New(4, zap.NewNop(), bad, good)
	d.Start()
	d.Emit(notify.Event{Kind: notify.KindTaskUnassigned, UserIDs: []string{"u"}})
	d.Emit(notify.Event{Kind: notify.KindTaskDeleted, UserIDs: []string{"u"}})
	d.Stop()

	if n := len(good.deliveries()); n != 2 {
		t.Errorf("good sink got %d, want 2", n)
	}
}

func TestDispatcher_IgnoresEventsWithoutRecipients(t *testing.T) {
	sink := &recordingSink{}
	d := notify.New(4, zap.NewNop(), sink)
	d.Start()
	d.Emit(notify.Event{Kind: notify.KindTaskDeleted})
	d.Stop()
	if n := len(sink.deliveries()); n != 0 {
		t.Errorf("got %d deliveries, want 0", n)
	}
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	d := notify.New(1, zap.NewNop())
	d.Start()
	d.Stop()
	d.Stop()
}
