package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/airwaveops/radiod/internal/metrics"
)

// MetricsExport dumps the current Prometheus gauge/counter values to
// state/metrics.json once a minute. spec.md §6 names the path in the
// filesystem layout but assigns it no owning task; this fills that gap
// as a supplemental sixth scheduler task.
func (t *Tasks) MetricsExport(ctx context.Context) TaskResult {
	if t.now().Second() != 0 {
		return skipped()
	}

	values, err := metrics.Snapshot()
	if err != nil {
		return fail(fmt.Errorf("metrics export: snapshot: %w", err))
	}

	data, err := json.Marshal(values)
	if err != nil {
		return fail(fmt.Errorf("metrics export: marshal: %w", err))
	}

	path := t.Paths.MetricsJSON
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fail(fmt.Errorf("metrics export: mkdir: %w", err))
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fail(fmt.Errorf("metrics export: atomic write: %w", err))
	}
	return ok()
}
