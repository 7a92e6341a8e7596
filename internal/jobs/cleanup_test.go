package jobs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GhostRadios/ghostspace-worker/config"
	"go.uber.org/zap"
)

func TestCleanupOrphanScratchRespectsLease(t *testing.T) {
	scratch := t.TempDir()
	cfg := &config.Config{
		ScratchDir:       scratch,
		LeaseDurationSec: 72 * 3600,
	}
	janitor := NewJanitor(cfg, nil, zap.NewNop())

	// A run a day into a multi-hour transcode still holds its lease, so its
	// scratch must survive the sweep.
	inFlight := filepath.Join(scratch, "job-in-flight")
	if err := os.Mkdir(inFlight, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	ageDir(t, inFlight, 25*time.Hour)

	// Past lease plus slack the directory can only belong to a dead run.
	orphan := filepath.Join(scratch, "job-orphan")
	if err := os.Mkdir(orphan, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	ageDir(t, orphan, 74*time.Hour)

	janitor.cleanupOrphanScratch()

	if _, err := os.Stat(inFlight); err != nil {
		t.Errorf("In-flight scratch directory was removed: %v", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Errorf("Orphan scratch directory still present, stat err = %v", err)
	}
}

func ageDir(t *testing.T, path string, age time.Duration) {
	t.Helper()
	past := time.Now().Add(-age)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("Chtimes(%s): %v", path, err)
	}
}
