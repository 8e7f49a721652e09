package dispatcher

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"comfybatch/internal/apperrors"
	"comfybatch/internal/config"
	"comfybatch/internal/progress"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0")).Width(24)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	neutralStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5B8DEF")).
			Padding(0, 1)
)

// Report run summary together with where its failures were recorded
type Report struct {
	Summary       *progress.RunSummary `yaml:"summary"`
	ErrorLog      string               `yaml:"error_log"`
	QuarantineDir string               `yaml:"quarantine_dir"`
	OutputDir     string               `yaml:"output_dir"`
}

// NewReport builds the report of a finished run
func NewReport(summary *progress.RunSummary, cfg config.BatchConfig) Report {
	return Report{
		Summary:       summary,
		ErrorLog:      cfg.ErrorLog,
		QuarantineDir: cfg.QuarantineDir,
		OutputDir:     cfg.OutputDir,
	}
}

// Render renders the report as a bordered console box
func (r Report) Render() string {
	s := r.Summary

	failed := neutralStyle
	if s.Failed > 0 || s.UnitsFailed > 0 {
		failed = failStyle
	}

	line := func(label string, value interface{}, style lipgloss.Style) string {
		return labelStyle.Render(label) + style.Render(fmt.Sprint(value))
	}

	lines := []string{
		titleStyle.Render("Batch run " + s.RunID),
		"",
		line("Workflow files", s.Total, neutralStyle),
		line("Processed", s.Processed(), neutralStyle),
		line("Succeeded", s.Succeeded, okStyle),
		line("Failed", s.Failed, failed),
		line("Skipped", s.Skipped, neutralStyle),
		line("Text-to-image", s.TextToImage, neutralStyle),
		line("Image-to-image", s.ImageToImage, neutralStyle),
		line("Units succeeded", s.UnitsSucceeded, okStyle),
		line("Units failed", s.UnitsFailed, failed),
	}
	if s.FinishedAt != nil {
		lines = append(lines, line("Duration", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond), neutralStyle))
	}
	if s.Failed > 0 {
		lines = append(lines,
			"",
			line("Error log", r.ErrorLog, neutralStyle),
			line("Quarantined workflows", r.QuarantineDir, neutralStyle),
		)
	}

	return boxStyle.Render(strings.Join(lines, "\n"))
}

// WriteYAML writes the report to path
func (r Report) WriteYAML(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.New(apperrors.KindIO, "write run report", err)
	}
	return nil
}
