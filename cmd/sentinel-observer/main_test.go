package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/journal"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("MIRADOR_SENTINEL_CONFIG", "")
	configPath, historySince, historyJSON, historyStore, historyTarget, runOnce = "", 0, false, false, "", false

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, `
target:
  container: checkout
diagnosis:
  backends:
    - name: local
      kind: lmstudio
      baseURL: http://lmstudio:1234/api/v1/chat
      model: qwen/qwen3-vl-4b
      timeout: 15s
`)
	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "target:    checkout")
	assert.Contains(t, out, "backends:  local")
	assert.Contains(t, out, "allowed:   docker restart checkout")
	assert.Contains(t, out, "configuration ok")
}

func TestValidateCommandRejectsBadConfig(t *testing.T) {
	path := writeConfig(t, `
observer:
  pollInterval: 0s
`)
	_, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := journal.Open(journalPath, nil)
	require.NoError(t, err)

	start := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	ids := []string{"c1", "c2"}
	for i, healed := range []bool{true, false} {
		outcome := models.OutcomeUnhealed
		if healed {
			outcome = models.OutcomeHealed
		}
		require.NoError(t, j.Append(models.CycleReport{
			CycleID:     ids[i],
			Target:      "checkout",
			StartedAt:   start.Add(time.Duration(i) * time.Second),
			Outcome:     outcome,
			Event:       &models.AnomalyEvent{Breaches: []models.Breach{{Signal: "cpu", Observed: 0.9, Limit: 0.5, Excess: 0.4}}},
			Remediation: &models.RemediationOutcome{Command: "docker restart checkout", Executed: true, VerifiedHealthy: healed},
		}))
	}
	require.NoError(t, j.Close())

	path := writeConfig(t, "target:\n  container: checkout\njournal:\n  path: "+journalPath+"\n")

	out, err := execute(t, "history", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "SIGNATURE")
	assert.Contains(t, out, "docker restart checkout (1/2 healed)")

	out, err = execute(t, "history", "--config", path, "--json")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, `"signature": "cpu"`), out)
}

func TestHistoryCommandRequiresJournal(t *testing.T) {
	path := writeConfig(t, "target:\n  container: checkout\n")
	_, err := execute(t, "history", "--config", path)
	require.Error(t, err)
}

func TestNewCacheWarnsWhenInProcess(t *testing.T) {
	var buf bytes.Buffer
	logger := utils.NewLoggerTo(&buf, "info", true)

	provider := newCache(context.Background(), config.CacheConfig{Enabled: false, KeyPrefix: "sentinel"}, logger)
	defer provider.Close()

	if _, ok := provider.(*cache.MemoryProvider); !ok {
		t.Fatalf("expected in-process provider, got %T", provider)
	}
	assert.Contains(t, buf.String(), "cooldown is not kept across restarts")
}
