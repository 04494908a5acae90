package supervisor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// jobRun is one structured job-run record (spec §4.8: "every task
// emits a JSON-line with ts, task, status, duration, error, and
// output-path").
type jobRun struct {
	Task       string        `json:"task"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"-"`
	Err        error         `json:"-"`
	OutputPath string        `json:"output_path,omitempty"`
}

type jobRunLine struct {
	Timestamp  string `json:"ts"`
	Task       string `json:"task"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
}

// jobLogger serializes appends to the jobs.jsonl file. A single mutex
// is enough: job runs are infrequent relative to the cost of a write.
type jobLogger struct {
	mu   sync.Mutex
	file *os.File
}

func newJobLogger(path string) (*jobLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &jobLogger{file: f}, nil
}

// Record appends one job-run line. Write failures are swallowed —
// a logging fault must never fail the task that produced it.
func (jl *jobLogger) Record(r jobRun) {
	line := jobRunLine{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Task:       r.Task,
		Status:     r.Status,
		DurationMS: r.Duration.Milliseconds(),
		OutputPath: r.OutputPath,
	}
	if r.Err != nil {
		line.Error = r.Err.Error()
	}

	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	data = append(data, '\n')

	jl.mu.Lock()
	defer jl.mu.Unlock()
	_, _ = jl.file.Write(data)
}

func (jl *jobLogger) Close() error {
	return jl.file.Close()
}
