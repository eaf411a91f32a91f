package cachestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/occi-cad/occi-server/internal/broker"
)

func TestIsCachedFalseThenTrueAfterCommit(t *testing.T) {
	s := New(t.TempDir(), nil)
	if s.IsCached("acme/box", "fp1", nil) {
		t.Fatalf("expected not cached before commit")
	}

	res := broker.Result{
		Success:    true,
		DurationMs: 42,
		Models:     map[broker.Format]string{broker.FormatSTEP: "ISO-10303-21;\nEND-ISO-10303-21;"},
	}
	if err := s.Commit("acme/box", "fp1", "task-1", res); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !s.IsCached("acme/box", "fp1", nil) {
		t.Fatalf("expected cached after commit")
	}

	got, ok, err := s.GetCached("acme/box", "fp1", nil)
	if err != nil || !ok {
		t.Fatalf("get cached: ok=%v err=%v", ok, err)
	}
	if got.DurationMs != 42 || !got.Success {
		t.Fatalf("unexpected cached result: %+v", got)
	}
}

func TestGetCachedArtifactNarrowsToFormat(t *testing.T) {
	s := New(t.TempDir(), nil)
	res := broker.Result{
		Success: true,
		Models: map[broker.Format]string{
			broker.FormatSTEP: "step-text",
			broker.FormatSTL:  broker.EncodeModel(broker.FormatSTL, []byte{0x01, 0x02, 0x03}),
		},
	}
	if err := s.Commit("acme/box", "fp1", "task-1", res); err != nil {
		t.Fatalf("commit: %v", err)
	}

	step, ok, err := s.GetCachedArtifact("acme/box", "fp1", broker.FormatSTEP)
	if err != nil || !ok || string(step) != "step-text" {
		t.Fatalf("expected step artifact, got %q ok=%v err=%v", step, ok, err)
	}

	stl, ok, err := s.GetCachedArtifact("acme/box", "fp1", broker.FormatSTL)
	if err != nil || !ok || len(stl) != 3 {
		t.Fatalf("expected 3-byte stl artifact, got %v ok=%v err=%v", stl, ok, err)
	}

	_, ok, err = s.GetCachedArtifact("acme/box", "fp1", broker.FormatGLTF)
	if err != nil || ok {
		t.Fatalf("expected no gltf artifact, got ok=%v err=%v", ok, err)
	}
}

func TestMarkInFlightExclusive(t *testing.T) {
	s := New(t.TempDir(), nil)

	acquired, err := s.MarkInFlight("acme/box", "fp1", "task-1")
	if err != nil || !acquired {
		t.Fatalf("expected first marker to be acquired, got acquired=%v err=%v", acquired, err)
	}

	acquired, err = s.MarkInFlight("acme/box", "fp1", "task-2")
	if err != nil || acquired {
		t.Fatalf("expected second marker to lose the race, got acquired=%v err=%v", acquired, err)
	}

	taskID, inFlight, err := s.CheckInFlight("acme/box", "fp1")
	if err != nil || !inFlight || taskID != "task-1" {
		t.Fatalf("expected task-1 in flight, got taskID=%q inFlight=%v err=%v", taskID, inFlight, err)
	}

	if err := s.Abort("acme/box", "fp1", "task-1"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	_, inFlight, err = s.CheckInFlight("acme/box", "fp1")
	if err != nil || inFlight {
		t.Fatalf("expected no in-flight marker after abort, got inFlight=%v err=%v", inFlight, err)
	}
}

func TestCommitClearsMarker(t *testing.T) {
	s := New(t.TempDir(), nil)
	if _, err := s.MarkInFlight("acme/box", "fp1", "task-1"); err != nil {
		t.Fatalf("mark in flight: %v", err)
	}
	res := broker.Result{Success: true, Models: map[broker.Format]string{broker.FormatSTEP: "x"}}
	if err := s.Commit("acme/box", "fp1", "task-1", res); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_, inFlight, err := s.CheckInFlight("acme/box", "fp1")
	if err != nil || inFlight {
		t.Fatalf("expected marker cleared by commit, got inFlight=%v err=%v", inFlight, err)
	}
}

func TestSweepRemovesStaleMarkers(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "acme", "box", "fp1")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stale-task.compute"), []byte("stale-task"), 0o640); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	s := New(root, nil)
	removed, err := s.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 marker removed, got %d", removed)
	}

	_, inFlight, err := s.CheckInFlight("acme/box", "fp1")
	if err != nil || inFlight {
		t.Fatalf("expected no in-flight marker after sweep, got inFlight=%v err=%v", inFlight, err)
	}
}

func TestGetCachedMissing(t *testing.T) {
	s := New(t.TempDir(), nil)
	_, ok, err := s.GetCached("acme/box", "nope", nil)
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestGetCachedRequiredDocsGate(t *testing.T) {
	s := New(t.TempDir(), nil)
	res := broker.Result{
		Success: true,
		Models:  map[broker.Format]string{broker.FormatSTEP: "x"},
		Files:   map[string][]byte{"front.pdf": []byte("pdf-bytes")},
	}
	if err := s.Commit("acme/archipart", "fp1", "task-1", res); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if !s.IsCached("acme/archipart", "fp1", RequiredDocs{"front"}) {
		t.Fatalf("expected cache hit when the only required doc is already present")
	}
	if s.IsCached("acme/archipart", "fp1", RequiredDocs{"front", "side"}) {
		t.Fatalf("expected cache miss when a required doc is missing from the bundle")
	}
	if _, ok, err := s.GetCached("acme/archipart", "fp1", RequiredDocs{"side"}); err != nil || ok {
		t.Fatalf("expected GetCached to report a miss for an unsatisfied doc requirement, got ok=%v err=%v", ok, err)
	}
}
