package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/zsiec/pixseq/internal/sequence"
)

func TestManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	j, ok := m.Create("upload-1")
	if !ok {
		t.Fatal("Create returned not-ok for new job")
	}
	if j.Key != "upload-1" {
		t.Errorf("key: got %q, want %q", j.Key, "upload-1")
	}
	if j.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}

	got, ok := m.Get("upload-1")
	if !ok || got != j {
		t.Fatal("Get should return the created job")
	}
	if info := j.Info(false); info.Status != StatusReceiving {
		t.Errorf("status: got %q, want %q", info.Status, StatusReceiving)
	}
}

func TestManagerCreateDuplicateRunning(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	if _, ok := m.Create("dup"); !ok {
		t.Fatal("first Create should succeed")
	}
	j2, ok := m.Create("dup")
	if ok {
		t.Error("duplicate Create of a running job should return false")
	}
	if j2 != nil {
		t.Error("duplicate Create should return nil job")
	}
}

func TestManagerCreateReplacesFinished(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	j1, _ := m.Create("again")
	j1.Finish(nil, errors.New("boom"))

	j2, ok := m.Create("again")
	if !ok {
		t.Fatal("Create should replace a finished job")
	}
	if j2 == j1 {
		t.Fatal("expected a fresh job")
	}
	if got, _ := m.Get("again"); got != j2 {
		t.Error("Get should return the replacement")
	}
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	j, _ := m.Create("life")

	j.SetEncoding()
	if info := j.Info(false); info.Status != StatusEncoding {
		t.Errorf("status: got %q, want %q", info.Status, StatusEncoding)
	}

	seq := &sequence.Sequence{Length: 3}
	j.Finish(seq, nil)

	select {
	case <-j.Done():
	default:
		t.Fatal("Done should be closed after Finish")
	}

	got, err := j.Result()
	if err != nil || got != seq {
		t.Errorf("Result: got (%v, %v)", got, err)
	}

	info := j.Info(true)
	if info.Status != StatusDone || info.Sequence != seq || info.FinishedAt == 0 {
		t.Errorf("info: got %+v", info)
	}
	if j.Info(false).Sequence != nil {
		t.Error("Info(false) should omit the sequence")
	}

	// A second Finish must not panic or change the outcome.
	j.Finish(nil, errors.New("late"))
	if _, err := j.Result(); err != nil {
		t.Errorf("late Finish changed result: %v", err)
	}
}

func TestJobFailure(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	j, _ := m.Create("bad")

	j.Finish(nil, errors.New("raster: decode gif: unexpected EOF"))
	info := j.Info(true)
	if info.Status != StatusFailed {
		t.Errorf("status: got %q, want %q", info.Status, StatusFailed)
	}
	if info.Error == "" {
		t.Error("expected error text")
	}
	if info.Sequence != nil {
		t.Error("failed job should have no sequence")
	}
}

func TestManagerRemoveAndList(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	m.Create("a")
	m.Create("b")
	m.Create("c")
	if n := len(m.List()); n != 3 {
		t.Fatalf("List: got %d, want 3", n)
	}

	if !m.Remove("b") {
		t.Error("Remove should report an existing key")
	}
	if m.Remove("b") {
		t.Error("second Remove should report a missing key")
	}

	keys := make(map[string]bool)
	for _, info := range m.List() {
		keys[info.Key] = true
	}
	if len(keys) != 2 || !keys["a"] || !keys["c"] {
		t.Errorf("List after remove: got %v", keys)
	}
}

func TestManagerPrune(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	old, _ := m.Create("old")
	old.Finish(&sequence.Sequence{}, nil)
	m.Create("running")

	if n := m.Prune(time.Now().Add(-time.Hour)); n != 0 {
		t.Errorf("Prune with past cutoff removed %d, want 0", n)
	}
	if n := m.Prune(time.Now().Add(time.Second)); n != 1 {
		t.Errorf("Prune removed %d, want 1", n)
	}
	if _, ok := m.Get("old"); ok {
		t.Error("finished job should be pruned")
	}
	if _, ok := m.Get("running"); !ok {
		t.Error("running job must survive Prune")
	}
}
