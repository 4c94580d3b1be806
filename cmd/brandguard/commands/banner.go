package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/teranos/brandguard/am"
	"github.com/teranos/brandguard/logger"
	"github.com/teranos/brandguard/version"
)

// printStartupBanner prints what the server is about to serve
func printStartupBanner(cfg *am.Config, verbosity, ruleCount int, dbPath string) {
	info := version.Get()

	title := pterm.DefaultBigText.WithLetters(pterm.NewLettersFromStringWithStyle("brand", pterm.FgCyan.ToStyle()),
		pterm.NewLettersFromStringWithStyle("guard", pterm.FgLightMagenta.ToStyle()))
	_ = title.Render()

	rows := [][]string{
		{"Version", fmt.Sprintf("%s (commit %s)", info.Version, info.Short())},
		{"Built", info.BuildTime},
		{"Listen", fmt.Sprintf("ws://localhost:%d/ws/audit", cfg.Server.Port)},
		{"Graph", cfg.Audit.GraphName},
		{"Milestones", strings.Join(cfg.Audit.MilestoneStages, ", ")},
		{"Rules", rulesLabel(cfg, ruleCount)},
		{"Verbosity", logger.LevelName(verbosity)},
	}
	if dbPath != "" {
		rows = append(rows, []string{"Ledger", dbPath})
	}
	if cfg.Audit.TimeoutSeconds > 0 {
		rows = append(rows, []string{"Timeout", cfg.AuditTimeout().String()})
	}
	if n := cfg.Server.MaxSessionsPerMinute; n > 0 {
		rows = append(rows, []string{"Admission", fmt.Sprintf("%d sessions/min", n)})
	}

	_ = pterm.DefaultTable.WithData(rows).Render()
	pterm.Println()
	pterm.Info.Println("Press Ctrl+C to stop")
}

func rulesLabel(cfg *am.Config, n int) string {
	src := "embedded defaults"
	if cfg.Rules.Path != "" {
		src = cfg.Rules.Path
		if cfg.Rules.Watch {
			src += " (watched)"
		}
	}
	return fmt.Sprintf("%d from %s", n, src)
}
