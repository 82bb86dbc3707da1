package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const maxLineBytes = 4 << 20

// Filter narrows the reports returned by Read. Zero values match everything.
type Filter struct {
	Since   time.Time
	Outcome models.CycleOutcome
	// Limit keeps only the newest N matching reports.
	Limit int
}

// Journal is an append-only JSONL log of finished cycles.
type Journal struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Open creates or appends to the journal at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{path: path, logger: logger, file: f}, nil
}

// Path returns the backing file path.
func (j *Journal) Path() string {
	return j.path
}

// Append writes one report as a single line.
func (j *Journal) Append(report models.CycleReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal cycle %s: %w", report.CycleID, err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("journal closed")
	}
	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("write cycle %s: %w", report.CycleID, err)
	}
	return nil
}

// Report appends every non-skipped cycle. Failures are logged, never propagated to the loop.
func (j *Journal) Report(_ context.Context, report models.CycleReport) {
	if report.Outcome == models.OutcomeSkipped {
		return
	}
	if err := j.Append(report); err != nil {
		j.logger.Warn("journal append failed", slog.String("cycle_id", report.CycleID), slog.Any("error", err))
	}
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	if err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}

// Read loads reports from a journal file in append order. A missing file yields no reports.
// Malformed lines are skipped.
func Read(path string, filter Filter) ([]models.CycleReport, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var reports []models.CycleReport
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var report models.CycleReport
		if err := json.Unmarshal(line, &report); err != nil {
			continue
		}
		if matches(report, filter) {
			reports = append(reports, report)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	if filter.Limit > 0 && len(reports) > filter.Limit {
		reports = reports[len(reports)-filter.Limit:]
	}
	return reports, nil
}

func matches(report models.CycleReport, filter Filter) bool {
	if !filter.Since.IsZero() && report.StartedAt.Before(filter.Since) {
		return false
	}
	if filter.Outcome != "" && report.Outcome != filter.Outcome {
		return false
	}
	return true
}
