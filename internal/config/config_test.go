package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MinimalUsesDefaults(t *testing.T) {
	path := writeConfig(t, "polling:\n  interval_seconds: 30\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Polling.IntervalSeconds)
	assert.Equal(t, 3, cfg.Polling.DebounceSeconds)
	assert.Equal(t, "Screener", cfg.Triage.ScreenerMailbox)
	assert.Equal(t, "@MailroomError", cfg.Labels.MailroomError)
	assert.True(t, cfg.Labels.WarningsEnabled)
	assert.Len(t, cfg.Resolved, 5)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidCategoriesPropagatesError(t *testing.T) {
	path := writeConfig(t, `
triage:
  categories:
    - name: A
      parent: B
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown parent")
}

func TestRequiredMailboxes(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)

	mailboxes := cfg.RequiredMailboxes()
	assert.Contains(t, mailboxes, "Inbox")
	assert.Contains(t, mailboxes, "Screener")
	assert.Contains(t, mailboxes, "@MailroomError")
	assert.Contains(t, mailboxes, "@MailroomWarning")
	assert.Contains(t, mailboxes, "@ToImbox")
	assert.Contains(t, mailboxes, "Feed")
}

func TestContactGroups(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)

	groups := cfg.ContactGroups()
	assert.Contains(t, groups, "Imbox")
	assert.Contains(t, groups, "Feed")
	assert.Contains(t, groups, "Paper Trail")
	assert.Contains(t, groups, "Jail")
}

func TestCategoryByLabel(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)

	cat, ok := cfg.CategoryByLabel("@ToImbox")
	require.True(t, ok)
	assert.Equal(t, "Imbox", cat.Name)

	_, ok = cfg.CategoryByLabel("@ToNowhere")
	assert.False(t, ok)
}

func TestLoadFromEnv_RequiresToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	t.Setenv("MAILROOM_CONFIG", path)
	t.Setenv("MAILROOM_JMAP_TOKEN", "")

	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestLoadFromEnv_Success(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	t.Setenv("MAILROOM_CONFIG", path)
	t.Setenv("MAILROOM_JMAP_TOKEN", "secret-token")
	t.Setenv("MAILROOM_CARDDAV_USERNAME", "alice@fastmail.com")
	t.Setenv("MAILROOM_CARDDAV_PASSWORD", "app-password")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.Auth.JMAPToken)
	assert.Equal(t, "alice@fastmail.com", cfg.Auth.CardDAVUsername)
}
