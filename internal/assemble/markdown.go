package assemble

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// MarkdownRenderer writes the draw commands as a markdown document.
type MarkdownRenderer struct {
	dir    string
	logger *zap.Logger
}

// NewMarkdownRenderer builds a renderer writing into dir.
func NewMarkdownRenderer(dir string, logger *zap.Logger) *MarkdownRenderer {
	return &MarkdownRenderer{dir: dir, logger: logger}
}

// Render writes the document and returns its path.
func (r *MarkdownRenderer) Render(ctx context.Context, subject string, cmds []DrawCommand) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, cmd := range cmds {
		switch cmd.Kind {
		case CmdTitlePage:
			fmt.Fprintf(&b, "# %s\n\n*%s*\n\n", cmd.Text, cmd.Subtitle)
		case CmdHeading:
			fmt.Fprintf(&b, "## %s\n\n", cmd.Text)
		case CmdParagraph:
			b.WriteString(cmd.Text)
			b.WriteString("\n\n")
		case CmdImage:
			fmt.Fprintf(&b, "![%s](%s)\n\n", cmd.Text, cmd.Path)
		case CmdTable:
			writeMarkdownTable(&b, cmd.Table)
		case CmdMissing:
			fmt.Fprintf(&b, "> %s\n\n", cmd.Text)
		case CmdCaption:
			fmt.Fprintf(&b, "*%s*\n\n", cmd.Text)
		case CmdSectionBreak:
			b.WriteString("---\n\n")
		}
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(r.dir, fileStem(subject)+".md")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write markdown report: %w", err)
	}
	r.logger.Info("markdown report written", zap.String("path", path))
	return path, nil
}

func writeMarkdownTable(b *strings.Builder, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(b, "| %s |\n", strings.Join(rows[0], " | "))
	seps := make([]string, len(rows[0]))
	for i := range seps {
		seps[i] = "---"
	}
	fmt.Fprintf(b, "| %s |\n", strings.Join(seps, " | "))
	for _, row := range rows[1:] {
		fmt.Fprintf(b, "| %s |\n", strings.Join(row, " | "))
	}
	b.WriteString("\n")
}

func fileStem(subject string) string {
	stem := strings.ToLower(strings.TrimSpace(subject))
	stem = strings.ReplaceAll(stem, " ", "_")
	var b strings.Builder
	for _, r := range stem {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "report"
	}
	return b.String() + "_report"
}
