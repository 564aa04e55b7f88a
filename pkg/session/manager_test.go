package session

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cognitriage/console/pkg/common/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

type recordingCloser struct {
	closed bool
}

func (c *recordingCloser) Close() { c.closed = true }

func TestManagerLifecycle(t *testing.T) {
	manager := NewManager(time.Hour)

	s := manager.Create()
	closer := &recordingCloser{}
	s.Bind(closer)

	if manager.Len() != 1 {
		t.Fatalf("expected one session, got %d", manager.Len())
	}
	got, ok := manager.Get(s.ID)
	if !ok || got != s {
		t.Fatal("created session not retrievable")
	}

	if !manager.Delete(s.ID) {
		t.Fatal("delete of live session failed")
	}
	if !closer.closed {
		t.Fatal("bound pipeline not closed on delete")
	}
	if manager.Len() != 0 {
		t.Fatal("session map not emptied")
	}
	if manager.Delete(s.ID) {
		t.Fatal("second delete must report not found")
	}
}

func TestManagerGetUnknownID(t *testing.T) {
	manager := NewManager(time.Hour)
	if _, ok := manager.Get(uuid.New()); ok {
		t.Fatal("unknown id must not resolve")
	}
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	manager := NewManager(20 * time.Millisecond)

	idle := manager.Create()
	idleCloser := &recordingCloser{}
	idle.Bind(idleCloser)

	time.Sleep(40 * time.Millisecond)

	active := manager.Create()
	active.Bind(&recordingCloser{})
	active.Store.Touch()

	manager.sweep()

	if _, ok := manager.Get(idle.ID); ok {
		t.Fatal("idle session survived the sweep")
	}
	if !idleCloser.closed {
		t.Fatal("idle session pipeline not closed")
	}
	if _, ok := manager.Get(active.ID); !ok {
		t.Fatal("active session was swept")
	}
}
