package patterns

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const maxCommandsPerPattern = 3

// Store abstracts persistence for mined patterns.
type Store interface {
	StorePatterns(ctx context.Context, target string, patterns []models.IncidentPattern) error
}

// Miner mines frequency-based incident patterns from the cycle journal.
type Miner struct {
	store  Store
	logger *slog.Logger
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger}
}

// Signature identifies a breach set independent of configuration order.
func Signature(signals []string) string {
	sorted := append([]string(nil), signals...)
	sort.Strings(sorted)
	return strings.Join(sorted, "+")
}

// Mine groups anomalous cycles of target by breach signature. Non-anomalous cycles are ignored.
// Patterns are ordered by prevalence, most frequent first.
func (m *Miner) Mine(ctx context.Context, target string, reports []models.CycleReport) ([]models.IncidentPattern, error) {
	aggregates := make(map[string]*patternAggregate)
	anomalous := 0
	for _, report := range reports {
		if !report.Anomalous() {
			continue
		}
		if target != "" && report.Target != target {
			continue
		}
		anomalous++

		signals := report.Event.Signals()
		agg := ensureAggregate(aggregates, Signature(signals), signals)
		agg.observe(report)
	}
	if anomalous == 0 {
		return nil, nil
	}

	patterns := make([]models.IncidentPattern, 0, len(aggregates))
	for signature, agg := range aggregates {
		pattern := models.IncidentPattern{
			Signature:  signature,
			Signals:    agg.signals,
			Target:     target,
			Count:      agg.count,
			Prevalence: float64(agg.count) / float64(anomalous),
			FirstSeen:  agg.firstSeen,
			LastSeen:   agg.lastSeen,
			MeanExcess: make(map[string]float64, len(agg.excess)),
			Commands:   agg.topCommands(maxCommandsPerPattern),
		}
		for signal, total := range agg.excess {
			pattern.MeanExcess[signal] = total / float64(agg.count)
		}
		if len(agg.severities) > 0 {
			pattern.Severities = agg.severities
		}
		patterns = append(patterns, pattern)
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Prevalence != patterns[j].Prevalence {
			return patterns[i].Prevalence > patterns[j].Prevalence
		}
		return patterns[i].Signature < patterns[j].Signature
	})

	if m.store != nil && len(patterns) > 0 {
		if err := m.store.StorePatterns(ctx, target, patterns); err != nil {
			m.logger.Warn("pattern store failed", slog.Any("error", err))
		}
	}

	return patterns, nil
}

type patternAggregate struct {
	signals    []string
	count      int
	firstSeen  time.Time
	lastSeen   time.Time
	excess     map[string]float64
	severities map[models.Severity]int
	commands   map[string]*models.CommandRecord
}

func ensureAggregate(m map[string]*patternAggregate, signature string, signals []string) *patternAggregate {
	agg, ok := m[signature]
	if !ok {
		sorted := append([]string(nil), signals...)
		sort.Strings(sorted)
		agg = &patternAggregate{
			signals:    sorted,
			excess:     make(map[string]float64),
			severities: make(map[models.Severity]int),
			commands:   make(map[string]*models.CommandRecord),
		}
		m[signature] = agg
	}
	return agg
}

func (agg *patternAggregate) observe(report models.CycleReport) {
	agg.count++
	seen := report.StartedAt
	if agg.firstSeen.IsZero() || seen.Before(agg.firstSeen) {
		agg.firstSeen = seen
	}
	if seen.After(agg.lastSeen) {
		agg.lastSeen = seen
	}
	for _, b := range report.Event.Breaches {
		agg.excess[b.Signal] += b.Excess
	}
	if report.Diagnosis != nil && report.Diagnosis.Severity != "" {
		agg.severities[report.Diagnosis.Severity]++
	}
	if r := report.Remediation; r != nil && r.Executed && r.Command != "" {
		rec, ok := agg.commands[r.Command]
		if !ok {
			rec = &models.CommandRecord{Command: r.Command}
			agg.commands[r.Command] = rec
		}
		rec.Attempts++
		if r.VerifiedHealthy {
			rec.Healed++
		}
	}
}

func (agg *patternAggregate) topCommands(limit int) []models.CommandRecord {
	records := make([]models.CommandRecord, 0, len(agg.commands))
	for _, rec := range agg.commands {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].HealRate() != records[j].HealRate() {
			return records[i].HealRate() > records[j].HealRate()
		}
		if records[i].Attempts != records[j].Attempts {
			return records[i].Attempts > records[j].Attempts
		}
		return records[i].Command < records[j].Command
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}
