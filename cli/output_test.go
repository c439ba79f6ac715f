package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/resily/resily/engine/operation"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOutputCommand(buf *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Bool("no-color", false, "")
	cmd.SetOut(buf)
	return cmd
}

func TestBuildReport(t *testing.T) {
	t.Run("Should aggregate per-task outcomes", func(t *testing.T) {
		scenario := &Scenario{
			Name: "s",
			Mode: ModeBatch,
			Tasks: []TaskSpec{
				{Key: "a"}, {Key: "b"}, {Key: "c"},
			},
		}
		results := map[string]operation.Result[any]{
			"a": operation.NewSuccess[any]("ok", 1, 0),
			"b": operation.NewFailure[any](assert.AnError, 2, 0),
		}
		report := buildReport(scenario, results, 100)
		assert.Equal(t, 3, report.Summary.Total)
		assert.Equal(t, 1, report.Summary.Succeeded)
		assert.Equal(t, 1, report.Summary.Failed)
		assert.Equal(t, 1, report.Summary.NotRun)
		assert.Equal(t, float64(100), report.Summary.Progress)
	})
}

func TestWriteReport(t *testing.T) {
	t.Run("Should render indented JSON with a trailing newline", func(t *testing.T) {
		buf := &bytes.Buffer{}
		cmd := newOutputCommand(buf)
		report := &Report{
			Scenario: "s",
			Mode:     ModeBatch,
			Results: map[string]operation.Result[any]{
				"a": operation.NewSuccess[any](map[string]any{"n": 1}, 1, 0),
			},
			Summary: ReportSummary{Total: 1, Succeeded: 1, Progress: 100},
		}
		require.NoError(t, writeReport(cmd, report))

		out := buf.String()
		assert.True(t, strings.HasSuffix(out, "\n"))
		decoded := make(map[string]any)
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "s", decoded["scenario"])
		results := asMap(t, decoded["results"])
		entry := asMap(t, results["a"])
		assert.Equal(t, "SUCCESS", entry["status"])
	})

	t.Run("Should not colorize when the no-color flag is set", func(t *testing.T) {
		buf := &bytes.Buffer{}
		cmd := newOutputCommand(buf)
		require.NoError(t, cmd.Flags().Set("no-color", "true"))
		report := &Report{Scenario: "s", Mode: ModeBatch, Summary: ReportSummary{}}
		require.NoError(t, writeReport(cmd, report))
		assert.NotContains(t, buf.String(), "\x1b[")
	})
}

func TestShouldUseColor(t *testing.T) {
	t.Run("Should disable color when the flag is set", func(t *testing.T) {
		cmd := newOutputCommand(&bytes.Buffer{})
		require.NoError(t, cmd.Flags().Set("no-color", "true"))
		assert.False(t, ShouldUseColor(cmd))
	})

	t.Run("Should respect the NO_COLOR environment variable", func(t *testing.T) {
		t.Setenv("NO_COLOR", "1")
		cmd := newOutputCommand(&bytes.Buffer{})
		assert.False(t, ShouldUseColor(cmd))
	})

	t.Run("Should disable color when stdout is not a terminal", func(t *testing.T) {
		cmd := newOutputCommand(&bytes.Buffer{})
		assert.False(t, ShouldUseColor(cmd))
	})
}

func TestIsRunningInCI(t *testing.T) {
	t.Run("Should detect the generic CI variable", func(t *testing.T) {
		t.Setenv("CI", "true")
		assert.True(t, isRunningInCI())
	})

	t.Run("Should detect provider-specific variables", func(t *testing.T) {
		t.Setenv("CI", "")
		t.Setenv("GITHUB_ACTIONS", "true")
		assert.True(t, isRunningInCI())
	})
}
