package diagnosis

import (
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// SystemPrompt instructs the backend to answer with a single JSON object.
const SystemPrompt = "You are a Senior Site Reliability Engineer. Analyze the following metrics and logs from a " +
	"containerized HTTP service. Respond ONLY with a valid JSON object containing the following keys: " +
	"'root_cause' (string: What happened?), " +
	"'severity' (string: Low/Medium/High/Critical), " +
	"'remediation_step' (string: the exact command to run to fix this, e.g. 'docker-compose restart', or 'N/A')."

// BuildInput renders the user-side prompt for a request.
func BuildInput(req Request) string {
	var b strings.Builder

	b.WriteString("Anomaly detected at ")
	b.WriteString(req.Event.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"))
	b.WriteString("\nBreaches:\n")
	for _, br := range req.Event.Breaches {
		fmt.Fprintf(&b, "- %s observed %.4f, threshold %.4f, exceeded by %.4f\n", br.Signal, br.Observed, br.Limit, br.Excess)
	}

	if len(req.Samples) > 0 {
		limits := make(map[string]float64, len(req.Thresholds))
		for _, th := range req.Thresholds {
			limits[th.Signal] = th.Limit
		}
		b.WriteString("\nMetrics:\n")
		for _, s := range req.Samples {
			if limit, ok := limits[s.Signal]; ok {
				fmt.Fprintf(&b, "- %s = %.4f (threshold %.4f)\n", s.Signal, s.Value, limit)
				continue
			}
			fmt.Fprintf(&b, "- %s = %.4f\n", s.Signal, s.Value)
		}
	}

	if !req.LogSummary.Empty() {
		fmt.Fprintf(&b, "\nLog summary: %d lines, %d errors, %d warnings\n", req.LogSummary.Lines, req.LogSummary.Errors, req.LogSummary.Warnings)
		for _, ev := range req.LogSummary.Spikes {
			level := ev.Level
			if level == "" {
				level = "unknown"
			}
			fmt.Fprintf(&b, "- %q x%d (%s)\n", ev.Signature, ev.Count, level)
		}
	}

	b.WriteString("\nLogs:\n")
	if strings.TrimSpace(req.Logs) == "" {
		b.WriteString("(no logs available)\n")
	} else {
		b.WriteString(req.Logs)
		b.WriteString("\n")
	}
	return b.String()
}

func breachSignals(event models.AnomalyEvent) string {
	return strings.Join(event.Signals(), ",")
}
