package observability

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertFile struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestLedgerAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "ledger.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var file alertFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	var group *alertGroup
	for i := range file.Groups {
		if file.Groups[i].Name == "ledger" {
			group = &file.Groups[i]
			break
		}
	}
	if group == nil {
		t.Fatal("ledger alert group missing")
	}

	expected := map[string]string{
		"HighErrorRate":         "critical",
		"HighLatency":           "warning",
		"AccrualRunsFailing":    "warning",
		"ScheduledTaskDisabled": "critical",
	}
	if len(group.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(group.Rules))
	}

	for _, rule := range group.Rules {
		severity, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" || rule.Annotations["runbook"] == "" {
			t.Fatalf("rule %s must include summary, description and runbook annotations", rule.Alert)
		}
		if rule.Expr == "" || rule.For == "" {
			t.Fatalf("rule %s must define an expression and a hold duration", rule.Alert)
		}
	}
}
