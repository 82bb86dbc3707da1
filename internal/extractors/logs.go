package extractors

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
)

// LogEvent counts occurrences of one event signature in a log excerpt.
type LogEvent struct {
	Signature string
	Level     string
	Count     int
	Score     float64
}

// LogSummary condenses a raw log excerpt for the diagnosis prompt.
type LogSummary struct {
	Lines    int
	Errors   int
	Warnings int
	Spikes   []LogEvent
}

// Empty reports whether the excerpt contained no lines.
func (s LogSummary) Empty() bool {
	return s.Lines == 0
}

// LogsExtractor spots event signatures that dominate a log excerpt.
type LogsExtractor struct{}

// NewLogsExtractor constructs a log summarizer.
func NewLogsExtractor() *LogsExtractor {
	return &LogsExtractor{}
}

// Summarize parses JSON structured lines (event/level keys) and falls back to plain text for
// anything else. A signature spikes when its count deviates from the median by 3 mean absolute
// deviations, or when it is an error seen more than once.
func (e *LogsExtractor) Summarize(excerpt string) LogSummary {
	var summary LogSummary
	index := make(map[string]int)
	events := make([]LogEvent, 0)

	for _, raw := range strings.Split(excerpt, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		summary.Lines++

		signature, level := parseLine(line)
		switch level {
		case "error", "critical", "fatal":
			summary.Errors++
		case "warning", "warn":
			summary.Warnings++
		}

		if i, ok := index[signature]; ok {
			events[i].Count++
			continue
		}
		index[signature] = len(events)
		events = append(events, LogEvent{Signature: signature, Level: level, Count: 1})
	}
	if len(events) == 0 {
		return summary
	}

	counts := make([]float64, 0, len(events))
	for _, ev := range events {
		counts = append(counts, float64(ev.Count))
	}
	median := percentile(counts, 0.5)
	mad := meanAbsoluteDeviation(counts, median)
	if mad == 0 {
		mad = 1
	}

	for _, ev := range events {
		ev.Score = math.Abs(float64(ev.Count)-median) / mad
		if ev.Score >= 3 || (isErrorLevel(ev.Level) && ev.Count > 1) {
			summary.Spikes = append(summary.Spikes, ev)
		}
	}
	sort.SliceStable(summary.Spikes, func(i, j int) bool {
		return summary.Spikes[i].Count > summary.Spikes[j].Count
	})
	return summary
}

func parseLine(line string) (signature, level string) {
	if strings.HasPrefix(line, "{") {
		var entry struct {
			Event   string `json:"event"`
			Message string `json:"message"`
			Level   string `json:"level"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err == nil {
			signature = firstNonEmpty(entry.Event, entry.Message)
			if signature != "" {
				return signature, strings.ToLower(entry.Level)
			}
		}
	}

	// uvicorn style: "INFO:     127.0.0.1 - ..." or "ERROR: ...".
	if head, rest, ok := strings.Cut(line, ":"); ok && isLevelName(head) {
		return truncateSignature(strings.TrimSpace(rest)), strings.ToLower(head)
	}
	return truncateSignature(line), ""
}

func isLevelName(v string) bool {
	switch strings.ToLower(v) {
	case "debug", "info", "warning", "warn", "error", "critical", "fatal":
		return true
	}
	return false
}

func isErrorLevel(level string) bool {
	return level == "error" || level == "critical" || level == "fatal"
}

func truncateSignature(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// TruncateTail bounds an excerpt to maxBytes, keeping the most recent content and starting on a
// line boundary where possible. maxBytes <= 0 disables truncation.
func TruncateTail(excerpt string, maxBytes int) string {
	if maxBytes <= 0 || len(excerpt) <= maxBytes {
		return excerpt
	}
	tail := excerpt[len(excerpt)-maxBytes:]
	if i := strings.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	return tail
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Round(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func meanAbsoluteDeviation(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(values))
}
