package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadRulesFile_Valid(t *testing.T) {
	path := writeRules(t, `
rules:
  - name: reports-on-write
    pattern: "report:*"
    triggers: [data_change]
    priority: 10
    cascade: true
  - name: nightly-views
    pattern: "view:*"
    triggers: [time_based, manual]
`)

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "reports-on-write", rules[0].Name)
	assert.Equal(t, []TriggerKind{TriggerDataChange}, rules[0].Triggers)
	assert.True(t, rules[0].Cascade)
	assert.Equal(t, 10, rules[0].Priority)

	assert.Equal(t, []TriggerKind{TriggerTimeBased, TriggerManual}, rules[1].Triggers)
	assert.False(t, rules[1].Cascade)
}

func TestLoadRulesFile_RejectsUnknownTrigger(t *testing.T) {
	path := writeRules(t, `
rules:
  - name: bad
    pattern: "x:*"
    triggers: [on_tuesday]
`)
	_, err := LoadRulesFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "on_tuesday")
}

func TestLoadRulesFile_RejectsMissingFields(t *testing.T) {
	_, err := LoadRulesFile(writeRules(t, "rules:\n  - pattern: \"x:*\"\n"))
	assert.Error(t, err)

	_, err = LoadRulesFile(writeRules(t, "rules:\n  - name: r\n"))
	assert.Error(t, err)
}

func TestLoadRulesFile_MissingFile(t *testing.T) {
	_, err := LoadRulesFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
