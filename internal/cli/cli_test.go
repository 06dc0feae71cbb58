package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "price-alerts/internal/errors"
	"price-alerts/internal/models"
	"price-alerts/internal/store"
)

func testConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := `
[store]
backend = "json"
path = "` + filepath.ToSlash(filepath.Join(dir, "alerts.json")) + `"

[logging]
level = "error"
console = false
file = false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0600))
	return dir
}

func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", dir}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAlertLifecycleCommands(t *testing.T) {
	dir := testConfigDir(t)

	out, err := execute(t, dir, "alert", "add", "btc", "above", "70000", "--owner", "u1", "--note", "ath", "--json")
	require.NoError(t, err)

	var created models.Alert
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.Equal(t, "BTC", created.Asset)
	require.Equal(t, "USD", created.QuoteCurrency)
	require.Equal(t, models.OpGreaterEqual, created.Operator)
	require.Equal(t, models.AlertPending, created.Status)

	out, err = execute(t, dir, "alert", "list", "--json")
	require.NoError(t, err)
	var listed []models.Alert
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	require.Equal(t, created.ID, listed[0].ID)

	_, err = execute(t, dir, "alert", "cancel", created.ID, "--owner", "someone-else")
	require.Error(t, err)

	out, err = execute(t, dir, "alert", "cancel", created.ID, "--owner", "u1")
	require.NoError(t, err)
	require.Contains(t, out, "cancelled")

	out, err = execute(t, dir, "alert", "list", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Empty(t, listed)

	out, err = execute(t, dir, "alert", "list", "--all")
	require.NoError(t, err)
	require.Contains(t, out, created.ID)
	require.Contains(t, out, "BTC/USD >= 70,000")

	out, err = execute(t, dir, "alert", "purge", "--older-than", "0s", "--json")
	require.NoError(t, err)
	require.JSONEq(t, `{"removed":1}`, out)
}

func TestAlertAddRejectsInvalidInput(t *testing.T) {
	dir := testConfigDir(t)

	_, err := execute(t, dir, "alert", "add", "btc", ">=", "lots", "--owner", "u1")
	require.ErrorContains(t, err, "not a number")

	_, err = execute(t, dir, "alert", "add", "btc", "~", "100", "--owner", "u1")
	require.ErrorContains(t, err, "operator")

	_, err = execute(t, dir, "alert", "add", "--owner", "u1", "--", "btc", ">=", "-5")
	require.ErrorContains(t, err, "threshold")
}

func TestAlertMutationsRefusedWhileStoreLocked(t *testing.T) {
	dir := testConfigDir(t)

	out, err := execute(t, dir, "alert", "add", "eth", "below", "2500", "--owner", "u1", "--json")
	require.NoError(t, err)
	var created models.Alert
	require.NoError(t, json.Unmarshal([]byte(out), &created))

	held, err := store.AcquireLock(filepath.Join(dir, "alerts.json") + ".lock")
	require.NoError(t, err)

	_, err = execute(t, dir, "alert", "add", "btc", "above", "70000", "--owner", "u1")
	require.ErrorIs(t, err, apperrors.ErrStoreLocked)
	require.ErrorContains(t, err, "alertd run")

	_, err = execute(t, dir, "alert", "cancel", created.ID, "--owner", "u1")
	require.ErrorIs(t, err, apperrors.ErrStoreLocked)

	_, err = execute(t, dir, "alert", "purge", "--older-than", "0s")
	require.ErrorIs(t, err, apperrors.ErrStoreLocked)

	out, err = execute(t, dir, "alert", "list", "--json")
	require.NoError(t, err)
	var listed []models.Alert
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	require.Equal(t, models.AlertPending, listed[0].Status)

	require.NoError(t, held.Release())

	_, err = execute(t, dir, "alert", "cancel", created.ID, "--owner", "u1")
	require.NoError(t, err)
}

func TestVersionAndConfigCommands(t *testing.T) {
	dir := testConfigDir(t)

	out, err := execute(t, dir, "version")
	require.NoError(t, err)
	require.Contains(t, out, Version)

	out, err = execute(t, dir, "config", "path")
	require.NoError(t, err)
	require.Equal(t, dir, strings.TrimSpace(out))

	out, err = execute(t, dir, "config", "show")
	require.NoError(t, err)
	require.Contains(t, out, "coingecko")
}

func TestPrintAlerts(t *testing.T) {
	var buf bytes.Buffer
	output := &Output{writer: &buf}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	fired := now.Add(-time.Minute)

	printAlerts(output, []models.Alert{
		{ID: "a1", Owner: "u1", Asset: "BTC", QuoteCurrency: "USD", Operator: models.OpGreaterEqual,
			Threshold: 65000, Status: models.AlertPending, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "a2", Owner: "u2", Asset: "ETH", QuoteCurrency: "EUR", Operator: models.OpLess,
			Threshold: 2500, Status: models.AlertFired, CreatedAt: now.Add(-time.Hour), FiredAt: &fired, FiredPrice: 2499.5},
	}, now)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "ID"))
	require.Contains(t, lines[2], "BTC/USD >= 65,000")
	require.Contains(t, lines[2], "2 hours ago")
	require.Contains(t, lines[3], "2,499.5 EUR")
}

func TestTableAlignsColouredCells(t *testing.T) {
	var buf bytes.Buffer
	output := &Output{writer: &buf, colorEnabled: true}
	table := NewTable(output, "A", "B")
	table.AddRow(output.Green("pending"), "x")
	table.AddRow("fired", "y")
	table.Render()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[2], "\x1b[")
	require.Equal(t, visibleWidth(lines[2]), visibleWidth(lines[3]))
	require.Equal(t, "fired    y", lines[3])
}

func TestRootHasCommands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "check", "price", "alert", "config", "version"} {
		require.Contains(t, names, want)
	}

	alert, _, err := root.Find([]string{"alert"})
	require.NoError(t, err)
	var subs []string
	for _, c := range alert.Commands() {
		subs = append(subs, c.Name())
	}
	require.ElementsMatch(t, []string{"add", "list", "cancel", "purge"}, subs)
}
