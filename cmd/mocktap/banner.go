package main

import (
	"fmt"
	"strings"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/server"
)

func printStartupBanner(cfg *config.Config, running []server.Status, log logger.Logger) {
	titleLine := fmt.Sprintf("MockTap v%s", version)
	subtitleLine := "REST & GraphQL Mock Server"

	var lines []string
	lines = append(lines, fmt.Sprintf("📁 Project:        %s", cfg.Project.File))
	for _, st := range running {
		lines = append(lines, fmt.Sprintf("🚀 %-15s http://%s", st.Name+":", st.Addr))
		lines = append(lines, fmt.Sprintf("   └─ Routes:     %d REST, %d GraphQL mount(s)", st.RESTRoutes, st.GraphQLMounts))
		if len(st.MountErrors) > 0 {
			lines = append(lines, fmt.Sprintf("   └─ Failed:     %d group(s)", len(st.MountErrors)))
		}
	}
	lines = append(lines, fmt.Sprintf("📊 Log Level:      %s", cfg.Log.Level))

	lines = append(lines, "")
	if cfg.Web.Enable {
		lines = append(lines, "🖥️ Admin API:      Enabled")
		lines = append(lines, fmt.Sprintf("   └─ Listen:     %s:%d%s", cfg.Server.Host, cfg.Web.Port, cfg.Web.Path))
	} else {
		lines = append(lines, "🖥️ Admin API:      Disabled")
	}
	if cfg.Storage.Enable {
		lines = append(lines, fmt.Sprintf("💾 Storage:        %s", cfg.Storage.Path))
	} else {
		lines = append(lines, "💾 Storage:        Disabled")
	}
	if cfg.Log.FileLogging.Enable {
		lines = append(lines, fmt.Sprintf("📝 File Logging:   %s (%dMB, %d backups)",
			cfg.Log.FileLogging.Path,
			cfg.Log.FileLogging.MaxSizeMB,
			cfg.Log.FileLogging.MaxBackups))
	}

	lines = append(lines, "")
	lines = append(lines, "(Press Ctrl+C to stop)")

	maxLength := calculateDisplayWidth(titleLine)
	for _, line := range lines {
		if w := calculateDisplayWidth(line); w > maxLength {
			maxLength = w
		}
	}
	boxWidth := maxLength + 4
	if boxWidth < 50 {
		boxWidth = 50
	}

	fmt.Println()
	printBoxTop(boxWidth)
	printBoxContent(titleLine, boxWidth, true)
	printBoxContent(subtitleLine, boxWidth, true)
	printBoxSeparator(boxWidth)
	for _, line := range lines {
		printBoxContent(line, boxWidth, false)
	}
	printBoxBottom(boxWidth)
	fmt.Println()

	log.Info("MockTap starting",
		"version", version,
		"project_file", cfg.Project.File,
		"servers", len(running),
		"log_level", cfg.Log.Level,
		"web_enable", cfg.Web.Enable,
		"storage_enable", cfg.Storage.Enable,
	)
}

// calculateDisplayWidth approximates the terminal width of s; emoji and
// CJK runes take two cells
func calculateDisplayWidth(s string) int {
	width := 0
	for _, r := range s {
		switch {
		case r <= 127:
			width++
		case (r >= 0x1F300 && r <= 0x1F6FF) ||
			(r >= 0x2600 && r <= 0x27BF):
			width += 2
		case (r >= 0x4E00 && r <= 0x9FFF) ||
			(r >= 0x3400 && r <= 0x4DBF) ||
			(r >= 0x20000 && r <= 0x2EBEF):
			width += 2
		case r == 0xFE0F:
			// variation selector renders with the previous rune
		default:
			width++
		}
	}
	return width
}

func printBoxTop(width int) {
	fmt.Printf("┌%s┐\n", strings.Repeat("─", width-2))
}

func printBoxBottom(width int) {
	fmt.Printf("└%s┘\n", strings.Repeat("─", width-2))
}

func printBoxSeparator(width int) {
	fmt.Printf("├%s┤\n", strings.Repeat("─", width-2))
}

func printBoxContent(content string, boxWidth int, center bool) {
	padding := boxWidth - 2 - calculateDisplayWidth(content)
	if padding < 0 {
		padding = 0
	}

	var leftPad, rightPad string
	if center {
		leftPad = strings.Repeat(" ", padding/2)
		rightPad = strings.Repeat(" ", padding-padding/2)
	} else {
		leftPad = "  "
		rightPad = strings.Repeat(" ", max(padding-2, 0))
	}

	fmt.Printf("│%s%s%s│\n", leftPad, content, rightPad)
}
