package daemon

import (
	"os"
	"sync"

	"github.com/msageha/observatory/internal/events"
	"github.com/msageha/observatory/internal/logging"
	"github.com/msageha/observatory/internal/orchestrator"
	atomicyaml "github.com/msageha/observatory/internal/yaml"
)

const (
	// SnapshotFile is written under state/ on every transition and exposure.
	SnapshotFile     = "orchestrator.yaml"
	SnapshotFileType = "orchestrator_status"
)

// Snapshot is the on-disk form of the orchestrator status.
type Snapshot struct {
	SchemaVersion       int    `yaml:"schema_version"`
	FileType            string `yaml:"file_type"`
	PID                 int    `yaml:"pid"`
	orchestrator.Status `yaml:",inline"`
}

type snapshotWriter struct {
	path   string
	log    *logging.Logger
	status func() orchestrator.Status
	pid    int

	mu sync.Mutex
}

func newSnapshotWriter(path string, log *logging.Logger) *snapshotWriter {
	return &snapshotWriter{path: path, log: log, pid: os.Getpid()}
}

func (w *snapshotWriter) onEvent(events.Event) { w.write() }

func (w *snapshotWriter) write() {
	if w == nil || w.status == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := Snapshot{
		SchemaVersion: atomicyaml.CurrentSchemaVersion,
		FileType:      SnapshotFileType,
		PID:           w.pid,
		Status:        w.status(),
	}
	if err := atomicyaml.AtomicWrite(w.path, snap); err != nil {
		w.log.Warnf("write status snapshot: %v", err)
	}
}
