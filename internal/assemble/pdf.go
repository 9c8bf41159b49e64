package assemble

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"
)

// PDFRenderer writes the draw commands as a paginated PDF with a title page,
// table of contents, numbered section headings, and a dated page footer.
type PDFRenderer struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewPDFRenderer builds a renderer writing into dir.
func NewPDFRenderer(dir string, logger *zap.Logger) *PDFRenderer {
	return &PDFRenderer{dir: dir, logger: logger, now: time.Now}
}

// Render writes the document and returns its path.
func (r *PDFRenderer) Render(ctx context.Context, subject string, cmds []DrawCommand) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	footerDate := r.now().Format("2006-01-02")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10,
			fmt.Sprintf("Generated %s | Page %d", footerDate, pdf.PageNo()),
			"", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)

	r.titlePage(pdf, tr, cmds)
	r.tableOfContents(pdf, tr, cmds)

	sectionNo := 0
	for _, cmd := range cmds {
		switch cmd.Kind {
		case CmdTitlePage:
			// Already drawn.
		case CmdHeading:
			sectionNo++
			pdf.Ln(4)
			pdf.SetFont("Helvetica", "B", 14)
			pdf.MultiCell(0, 8, tr(fmt.Sprintf("%d. %s", sectionNo, cmd.Text)), "", "L", false)
			pdf.Ln(2)
		case CmdParagraph:
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, tr(cmd.Text), "", "L", false)
			pdf.Ln(2)
		case CmdImage:
			r.image(pdf, cmd.Path)
		case CmdTable:
			r.table(pdf, tr, cmd.Table)
		case CmdMissing:
			pdf.SetFont("Helvetica", "I", 9)
			pdf.SetTextColor(160, 160, 160)
			pdf.MultiCell(0, 5, tr(cmd.Text), "", "L", false)
			pdf.SetTextColor(0, 0, 0)
			pdf.Ln(2)
		case CmdCaption:
			pdf.SetFont("Helvetica", "I", 8)
			pdf.SetTextColor(96, 96, 96)
			pdf.MultiCell(0, 4, tr(cmd.Text), "", "L", false)
			pdf.SetTextColor(0, 0, 0)
			pdf.Ln(3)
		case CmdSectionBreak:
			pdf.Ln(6)
		}
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(r.dir, fileStem(subject)+".pdf")
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("failed to write pdf report: %w", err)
	}
	r.logger.Info("pdf report written", zap.String("path", path))
	return path, nil
}

func (r *PDFRenderer) titlePage(pdf *fpdf.Fpdf, tr func(string) string, cmds []DrawCommand) {
	pdf.AddPage()
	title, subtitle := "Research Report", ""
	for _, cmd := range cmds {
		if cmd.Kind == CmdTitlePage {
			title, subtitle = cmd.Text, cmd.Subtitle
			break
		}
	}
	pdf.SetY(90)
	pdf.SetFont("Helvetica", "B", 26)
	pdf.MultiCell(0, 12, tr(title), "", "C", false)
	if subtitle != "" {
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "", 12)
		pdf.MultiCell(0, 8, tr(subtitle), "", "C", false)
	}
}

func (r *PDFRenderer) tableOfContents(pdf *fpdf.Fpdf, tr func(string) string, cmds []DrawCommand) {
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 10, "Table of Contents", "", "L", false)
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 11)
	n := 0
	for _, cmd := range cmds {
		if cmd.Kind != CmdHeading {
			continue
		}
		n++
		pdf.MultiCell(0, 7, tr(fmt.Sprintf("%d. %s", n, cmd.Text)), "", "L", false)
	}
	pdf.AddPage()
}

func (r *PDFRenderer) image(pdf *fpdf.Fpdf, path string) {
	if _, err := os.Stat(path); err != nil {
		r.logger.Warn("chart file missing at render time", zap.String("path", path))
		return
	}
	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	width := pageW - left - right
	pdf.ImageOptions(path, left, pdf.GetY(), width, 0, true,
		fpdf.ImageOptions{ReadDpi: true}, 0, "")
	pdf.Ln(3)
}

func (r *PDFRenderer) table(pdf *fpdf.Fpdf, tr func(string) string, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colW := (pageW - left - right) / float64(len(rows[0]))

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for _, cell := range rows[0] {
		pdf.CellFormat(colW, 7, tr(cell), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows[1:] {
		for _, cell := range row {
			pdf.CellFormat(colW, 6, tr(cell), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(3)
}
