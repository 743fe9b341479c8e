package status

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/msageha/observatory/internal/daemon"
	"github.com/msageha/observatory/internal/hardware"
	"github.com/msageha/observatory/internal/lock"
	"github.com/msageha/observatory/internal/model"
	"github.com/msageha/observatory/internal/orchestrator"
	"github.com/msageha/observatory/internal/scheduler"
	"github.com/msageha/observatory/internal/uds"
	atomicyaml "github.com/msageha/observatory/internal/yaml"
)

var now = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func observingStatus() orchestrator.Status {
	return orchestrator.Status{
		State: model.StateObserving,
		Since: now.Add(-90 * time.Second),
		Safe:  true,
		Observation: &scheduler.ObservationStatus{
			Name:          "M42",
			SequenceID:    "seq_1",
			ExposureTime:  60,
			MinExposures:  30,
			MaxExposures:  120,
			ExposureCount: 12,
			Merit:         91.5,
		},
		Mount:     hardware.MountStatus{Tracking: true},
		UpdatedAt: now.Add(-5 * time.Second),
	}
}

func writeSnapshot(t *testing.T, dir string, st orchestrator.Status) {
	t.Helper()
	err := atomicyaml.AtomicWrite(filepath.Join(dir, "state", daemon.SnapshotFile), daemon.Snapshot{
		SchemaVersion: 1,
		FileType:      daemon.SnapshotFileType,
		PID:           4242,
		Status:        st,
	})
	if err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
}

func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "obs-status-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func TestCollect_NothingAvailable(t *testing.T) {
	r := Collect(shortTempDir(t))
	if r.Daemon.Running {
		t.Error("daemon should not be reported running")
	}
	if r.Source != SourceNone || r.Orchestrator != nil {
		t.Errorf("unexpected report: %+v", r)
	}
}

func TestCollect_FallsBackToSnapshot(t *testing.T) {
	dir := shortTempDir(t)
	writeSnapshot(t, dir, observingStatus())

	r := Collect(dir)
	if r.Source != SourceSnapshot {
		t.Fatalf("source = %q, want %q", r.Source, SourceSnapshot)
	}
	if r.Orchestrator.State != model.StateObserving {
		t.Errorf("state = %s", r.Orchestrator.State)
	}
	if r.Orchestrator.Observation == nil || r.Orchestrator.Observation.ExposureCount != 12 {
		t.Errorf("observation = %+v", r.Orchestrator.Observation)
	}
	if r.Daemon.Running {
		t.Error("no lock holder, daemon should be stopped")
	}
}

func TestCollect_LockHolderMeansRunning(t *testing.T) {
	dir := shortTempDir(t)
	fl := lock.NewFileLock(filepath.Join(dir, "locks", "daemon.lock"))
	if err := fl.TryLock(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer fl.Unlock()

	r := Collect(dir)
	if !r.Daemon.Running || r.Daemon.PID != os.Getpid() {
		t.Errorf("daemon = %+v, want running with pid %d", r.Daemon, os.Getpid())
	}
}

func TestCollect_AsksDaemonSocket(t *testing.T) {
	dir := shortTempDir(t)
	writeSnapshot(t, dir, orchestrator.Status{State: model.StateParked})

	server := uds.NewServer(filepath.Join(dir, uds.DefaultSocketName), nil)
	server.Handle("status", func(*uds.Request) *uds.Response {
		return uds.SuccessResponse(daemon.StatusData{Status: observingStatus(), PID: 77})
	})
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer server.Stop()

	r := Collect(dir)
	if r.Source != SourceSocket {
		t.Fatalf("source = %q, want %q", r.Source, SourceSocket)
	}
	if r.Daemon.PID != 77 || r.Orchestrator.State != model.StateObserving {
		t.Errorf("unexpected report: %+v", r)
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, Report{
		Daemon:       DaemonStatus{Running: true, PID: 99},
		Source:       SourceSocket,
		Orchestrator: func() *orchestrator.Status { s := observingStatus(); return &s }(),
	}, now)
	out := buf.String()

	for _, want := range []string{
		"Daemon: running (pid 99)",
		"State:  observing for 1m30s",
		"Observation: M42",
		"exposures: 12 (min 30, max 120) x 60s",
		"merit:     91.50",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintReport_NoStatus(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, Report{Source: SourceNone}, now)
	if !strings.Contains(buf.String(), "observatory daemon") {
		t.Errorf("expected a hint to start the daemon:\n%s", buf.String())
	}
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	st := observingStatus()
	if err := write(&buf, Report{Source: SourceSnapshot, Orchestrator: &st}, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got["source"] != SourceSnapshot {
		t.Errorf("source = %v", got["source"])
	}
}
