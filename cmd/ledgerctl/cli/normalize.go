package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/lexledger/lexledger/internal/billing"
)

// StatusNormalizer rewrites legacy invoice statuses.
type StatusNormalizer interface {
	NormalizeStatuses(ctx context.Context, dryRun bool) (billing.NormalizationReport, error)
}

// NormalizeOptions defines available flags for the normalize-statuses command.
type NormalizeOptions struct {
	DryRun     bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// NormalizeSummary is the JSON form of a normalisation report.
type NormalizeSummary struct {
	DryRun   bool           `json:"dry_run"`
	Scanned  int            `json:"scanned"`
	Changed  int            `json:"changed"`
	ByStatus map[string]int `json:"by_status"`
}

// NormalizeCommand runs the normalisation and prints the outcome. It
// returns the process exit code.
func NormalizeCommand(ctx context.Context, n StatusNormalizer, opts NormalizeOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	report, err := n.NormalizeStatuses(ctx, opts.DryRun)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "normalize-statuses: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		summary := NormalizeSummary{
			DryRun:   report.DryRun,
			Scanned:  report.Scanned,
			Changed:  report.Changed,
			ByStatus: make(map[string]int, len(report.ByStatus)),
		}
		for status, count := range report.ByStatus {
			summary.ByStatus[string(status)] = count
		}
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "normalize-statuses: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	renderNormalizeHuman(opts.Stdout, report)
	return 0
}

func renderNormalizeHuman(out io.Writer, report billing.NormalizationReport) {
	mode := "applied"
	if report.DryRun {
		mode = "dry run, nothing written"
	}
	_, _ = fmt.Fprintf(out, "Invoice status normalisation (%s)\n", mode)
	_, _ = fmt.Fprintf(out, "Scanned %d invoice(s), %d needed rewriting.\n", report.Scanned, report.Changed)
	for _, status := range billing.Statuses() {
		if count := report.ByStatus[status]; count > 0 {
			_, _ = fmt.Fprintf(out, " - %-15s %d\n", status, count)
		}
	}
}
