package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/resily/resily/engine/operation"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
)

// -----------------------------------------------------------------------------
// Run report
// -----------------------------------------------------------------------------

// Report is the JSON document printed after a scenario run.
type Report struct {
	Scenario string                           `json:"scenario"`
	Mode     string                           `json:"mode"`
	Results  map[string]operation.Result[any] `json:"results"`
	Summary  ReportSummary                    `json:"summary"`
	Breakers map[string]string                `json:"breakers,omitempty"`
}

// ReportSummary aggregates per-task outcomes. NotRun counts tasks that never
// produced a result: skipped by a condition, discarded by an abort, or left
// queued on cancellation.
type ReportSummary struct {
	Total     int     `json:"total"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	NotRun    int     `json:"not_run"`
	Progress  float64 `json:"progress"`
}

func buildReport(scenario *Scenario, results map[string]operation.Result[any], progress float64) *Report {
	report := &Report{
		Scenario: scenario.Name,
		Mode:     scenario.Mode,
		Results:  results,
		Summary: ReportSummary{
			Total:    len(scenario.Tasks),
			Progress: progress,
		},
	}
	for i := range scenario.Tasks {
		result, ok := results[scenario.Tasks[i].Key]
		switch {
		case !ok:
			report.Summary.NotRun++
		case result.Success:
			report.Summary.Succeeded++
		default:
			report.Summary.Failed++
		}
	}
	return report
}

// writeReport renders the report as indented JSON, colorized when the
// terminal supports it.
func writeReport(cmd *cobra.Command, report *Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	formatted := pretty.Pretty(data)
	if ShouldUseColor(cmd) {
		formatted = pretty.Color(formatted, nil)
	}
	if _, err := cmd.OutOrStdout().Write(formatted); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Terminal detection
// -----------------------------------------------------------------------------

// isRunningInCI checks if we're running in a CI/CD environment
func isRunningInCI() bool {
	if os.Getenv("CI") != "" {
		return true
	}
	return hasAnyEnvVar([]string{
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"CIRCLECI",
		"TRAVIS",
		"BUILDKITE",
		"DRONE",
		"JENKINS_URL",
		"TEAMCITY_VERSION",
		"CONTINUOUS_INTEGRATION",
	})
}

// hasAnyEnvVar checks if any of the given environment variables are set
func hasAnyEnvVar(vars []string) bool {
	for _, v := range vars {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}

// ShouldUseColor determines if colored output should be used
func ShouldUseColor(cmd *cobra.Command) bool {
	if noColor, err := cmd.Flags().GetBool("no-color"); err == nil && noColor {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}
	if isRunningInCI() {
		return false
	}
	term := os.Getenv("TERM")
	if term == "dumb" || term == "" {
		return false
	}
	return true
}
