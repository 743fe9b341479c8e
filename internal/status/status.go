// Package status reports what the observatory is doing, asking the daemon
// over its socket or falling back to the last snapshot it wrote.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/observatory/internal/daemon"
	"github.com/msageha/observatory/internal/lock"
	"github.com/msageha/observatory/internal/orchestrator"
	"github.com/msageha/observatory/internal/safety"
	"github.com/msageha/observatory/internal/uds"
	atomicyaml "github.com/msageha/observatory/internal/yaml"
)

const (
	SourceSocket   = "socket"
	SourceSnapshot = "snapshot"
	SourceNone     = "none"
)

type Report struct {
	Daemon       DaemonStatus         `json:"daemon"`
	Source       string               `json:"source"`
	Orchestrator *orchestrator.Status `json:"orchestrator,omitempty"`
	Safety       *safety.Report       `json:"safety,omitempty"`
}

type DaemonStatus struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

// Run collects the status for baseDir and prints it to stdout.
func Run(baseDir string, jsonOutput bool) error {
	return write(os.Stdout, Collect(baseDir), jsonOutput)
}

// Collect asks the daemon first. When it does not answer, the snapshot under
// state/ describes the last known state and the lock file tells whether a
// daemon process still holds the lock.
func Collect(baseDir string) Report {
	client := uds.NewClient(filepath.Join(baseDir, uds.DefaultSocketName))
	client.SetTimeout(5 * time.Second)

	var data daemon.StatusData
	if err := client.Call("status", nil, &data); err == nil {
		return Report{
			Daemon:       DaemonStatus{Running: true, PID: data.PID},
			Source:       SourceSocket,
			Orchestrator: &data.Status,
			Safety:       &data.Safety,
		}
	}

	r := Report{Source: SourceNone}
	lockPath := filepath.Join(baseDir, "locks", "daemon.lock")
	if pid, err := lock.HolderPID(lockPath); err == nil && lockHeld(lockPath) {
		r.Daemon = DaemonStatus{Running: true, PID: pid}
	}

	var snap daemon.Snapshot
	_, err := atomicyaml.ReadWithRecovery(filepath.Join(baseDir, "state", daemon.SnapshotFile), &snap)
	if err == nil && snap.FileType == daemon.SnapshotFileType {
		r.Source = SourceSnapshot
		st := snap.Status
		r.Orchestrator = &st
	}
	return r
}

// lockHeld reports whether another process holds the flock at path.
func lockHeld(path string) bool {
	fl := lock.NewFileLock(path)
	err := fl.TryLock()
	if err == nil {
		// Acquiring it means nobody held it; Unlock removes the stale file.
		_ = fl.Unlock()
		return false
	}
	return errors.Is(err, lock.ErrLocked)
}

func write(w io.Writer, r Report, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	printReport(w, r, time.Now())
	return nil
}

func printReport(w io.Writer, r Report, now time.Time) {
	if r.Daemon.Running {
		fmt.Fprintf(w, "Daemon: running (pid %d)\n", r.Daemon.PID)
	} else {
		fmt.Fprintln(w, "Daemon: stopped")
	}

	st := r.Orchestrator
	if st == nil {
		fmt.Fprintln(w, "\nNo status available. Start the daemon with: observatory daemon")
		return
	}
	if r.Source == SourceSnapshot {
		fmt.Fprintf(w, "(last snapshot, updated %s ago)\n", age(now, st.UpdatedAt))
	}

	fmt.Fprintf(w, "\nState:  %s for %s\n", st.State, age(now, st.Since))
	fmt.Fprintf(w, "Safe:   %s", yesNo(st.Safe))
	if st.Hold {
		fmt.Fprint(w, "  (held by operator park)")
	}
	fmt.Fprintln(w)
	if r.Safety != nil && r.Safety.Reason != "" {
		fmt.Fprintf(w, "        %s (sun %.1f°)\n", r.Safety.Reason, r.Safety.SunAltitude)
	}

	m := st.Mount
	fmt.Fprintf(w, "Mount:  %s  parked=%s tracking=%s slewing=%s\n",
		m.Position, yesNo(m.Parked), yesNo(m.Tracking), yesNo(m.Slewing))

	if obs := st.Observation; obs != nil {
		fmt.Fprintf(w, "\nObservation: %s\n", obs.Name)
		if obs.SequenceID != "" {
			fmt.Fprintf(w, "  sequence:  %s\n", obs.SequenceID)
		}
		fmt.Fprintf(w, "  exposures: %d (min %d", obs.ExposureCount, obs.MinExposures)
		if obs.MaxExposures > 0 {
			fmt.Fprintf(w, ", max %d", obs.MaxExposures)
		}
		fmt.Fprintf(w, ") x %gs\n", obs.ExposureTime)
		fmt.Fprintf(w, "  merit:     %.2f\n", obs.Merit)
		if st.PointingIteration > 0 {
			fmt.Fprintf(w, "  pointing iteration: %d\n", st.PointingIteration)
		}
	}

	if st.LastError != "" {
		fmt.Fprintf(w, "\nLast error: %s\n", st.LastError)
	}
}

func age(now, t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return now.Sub(t).Round(time.Second)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
