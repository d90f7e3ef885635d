package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type ruleFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

var repoRoot = filepath.Join("..", "..")

func loadBillingRules(t *testing.T) []alertRule {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(repoRoot, "deploy", "prometheus", "alerts", "billing.yml"))
	require.NoError(t, err)
	var file ruleFile
	require.NoError(t, yaml.Unmarshal(data, &file))
	for _, g := range file.Groups {
		if g.Name == "billing" {
			return g.Rules
		}
	}
	t.Fatal("billing alert group missing")
	return nil
}

// runbookAnchors lists the GitHub-style anchors of every level-two heading.
func runbookAnchors(t *testing.T, path string) map[string]bool {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(repoRoot, path))
	require.NoError(t, err)
	nonWord := regexp.MustCompile(`[^a-z0-9 -]`)
	anchors := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		title, ok := strings.CutPrefix(line, "## ")
		if !ok {
			continue
		}
		slug := nonWord.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), "")
		anchors[strings.ReplaceAll(slug, " ", "-")] = true
	}
	return anchors
}

func TestBillingAlertRules(t *testing.T) {
	rules := loadBillingRules(t)

	severities := map[string]string{
		"HighErrorRate":           "critical",
		"HighLatency":             "warning",
		"OverdueBalanceGrowth":    "warning",
		"OverdueScanFailing":      "critical",
		"IdempotencyCleanupStale": "warning",
	}
	require.Len(t, rules, len(severities))

	for _, rule := range rules {
		want, ok := severities[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		require.Equal(t, want, rule.Labels["severity"], rule.Alert)
		require.NotEmpty(t, rule.Expr, rule.Alert)
		require.NotEmpty(t, rule.For, rule.Alert)
		require.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["description"], rule.Alert)
	}
}

func TestBillingAlertRunbooksResolve(t *testing.T) {
	anchorsByDoc := map[string]map[string]bool{}
	for _, rule := range loadBillingRules(t) {
		doc, anchor, ok := strings.Cut(rule.Annotations["runbook"], "#")
		require.True(t, ok, "rule %s runbook needs an anchor", rule.Alert)
		if anchorsByDoc[doc] == nil {
			anchorsByDoc[doc] = runbookAnchors(t, doc)
		}
		require.True(t, anchorsByDoc[doc][anchor], "rule %s points at missing section %s#%s", rule.Alert, doc, anchor)
	}
}
