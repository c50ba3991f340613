package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/alertengine/pkg/types"
	"github.com/obsidianstack/alertengine/server/internal/alerts"
	"github.com/obsidianstack/alertengine/server/internal/config"
)

func newTestRuleCmd() *cobra.Command {
	var configPath, workspace, ruleID, samplesPath string

	cmd := &cobra.Command{
		Use:   "test-rule",
		Short: "Replay a configured rule's condition over samples from a JSON file",
		Long: `Replay evaluates the rule's condition at every sample of the file as if it
were the newest one and prints the trace. Nothing is stored or sent.

The samples file holds a JSON array of {"ts": ..., "value": ...}.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rule, err := findRule(cfg, workspace, ruleID)
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(samplesPath)
			if err != nil {
				return fmt.Errorf("read samples: %w", err)
			}
			var w types.Window
			if err := json.Unmarshal(raw, &w); err != nil {
				return fmt.Errorf("parse samples: %w", err)
			}

			trace, err := alerts.TestRule(rule.Condition, w)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(trace)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace ID")
	cmd.Flags().StringVar(&ruleID, "rule", "", "rule ID")
	cmd.Flags().StringVar(&samplesPath, "samples", "", "JSON file with samples")
	for _, f := range []string{"workspace", "rule", "samples"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func findRule(cfg *config.Config, workspace, ruleID string) (types.AlertRule, error) {
	for _, w := range cfg.Workspaces {
		if w.ID != workspace {
			continue
		}
		for _, r := range w.AlertRules() {
			if r.ID == ruleID {
				return r, nil
			}
		}
		return types.AlertRule{}, fmt.Errorf("rule %q not found in workspace %q", ruleID, workspace)
	}
	return types.AlertRule{}, fmt.Errorf("workspace %q not found", workspace)
}
