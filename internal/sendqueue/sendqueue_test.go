package sendqueue

import (
	"testing"
	"time"

	"github.com/robodone/reprap-engine/internal/command"
)

func TestDedupRejectsSecondEnqueue(t *testing.T) {
	q := New()
	cmd := command.ToCommand("M105", "temperature", nil)
	if err := q.Put(&Entry{Command: cmd}, "temperature", TrackSend); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := q.Put(&Entry{Command: cmd}, "temperature", TrackSend); err != ErrDedup {
		t.Fatalf("second Put err = %v, want ErrDedup", err)
	}
}

func TestResendPreemptsSend(t *testing.T) {
	q := New()
	sendCmd := command.ToCommand("G1 X10", "", nil)
	resendCmd := command.ToCommand("G28", "", nil)
	if err := q.Put(&Entry{Command: sendCmd}, "", TrackSend); err != nil {
		t.Fatal(err)
	}
	if err := q.Put(&Entry{Command: resendCmd}, "", TrackResend); err != nil {
		t.Fatal(err)
	}
	e, ok := q.Get()
	if !ok || e.Command != resendCmd {
		t.Fatalf("expected resend entry first, got %+v", e)
	}
	e, ok = q.Get()
	if !ok || e.Command != sendCmd {
		t.Fatalf("expected send entry second, got %+v", e)
	}
}

func TestFIFOWithinTrack(t *testing.T) {
	q := New()
	first := command.ToCommand("G1 X1", "", nil)
	second := command.ToCommand("G1 X2", "", nil)
	q.Put(&Entry{Command: first}, "", TrackSend)
	q.Put(&Entry{Command: second}, "", TrackSend)
	e, _ := q.Get()
	if e.Command != first {
		t.Fatalf("expected FIFO order, got second first")
	}
}

func TestGetBlocksUntilPut(t *testing.T) {
	q := New()
	done := make(chan *Entry, 1)
	go func() {
		e, _ := q.Get()
		done <- e
	}()
	time.Sleep(20 * time.Millisecond)
	cmd := command.ToCommand("G28", "", nil)
	q.Put(&Entry{Command: cmd}, "", TrackSend)
	select {
	case e := <-done:
		if e.Command != cmd {
			t.Fatalf("got wrong entry")
		}
	case <-time.After(time.Second):
		t.Fatalf("Get did not unblock after Put")
	}
}

func TestCloseUnblocksGet(t *testing.T) {
	q := New()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get()
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("Get returned ok=true after Close on empty queue")
		}
	case <-time.After(time.Second):
		t.Fatalf("Get did not unblock after Close")
	}
}

func TestCommandQueueDedup(t *testing.T) {
	q := NewCommandQueue()
	cmd := command.ToCommand("M105", "temperature", nil)
	if err := q.Put(cmd, nil, "temperature"); err != nil {
		t.Fatal(err)
	}
	if err := q.Put(cmd, nil, "temperature"); err != ErrDedup {
		t.Fatalf("err = %v, want ErrDedup", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
	e, ok := q.Pop()
	if !ok || e.Command != cmd {
		t.Fatalf("Pop() = %+v, %v", e, ok)
	}
	if q.Len() != 0 {
		t.Fatalf("Len() after Pop = %d, want 0", q.Len())
	}
}
