// Package export 把房间的行李清单导出为 PDF 文档。
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"

	"tripsync/internal/domain"
	"tripsync/internal/weather"
)

// PackingListPDF 生成行李清单 PDF
type PackingListPDF struct{}

// NewPackingListPDF 创建导出器
func NewPackingListPDF() *PackingListPDF { return &PackingListPDF{} }

// Render 将房间渲染为 PDF 并写入 w
func (e *PackingListPDF) Render(room *domain.Room, w io.Writer) error {
	if room == nil {
		return fmt.Errorf("export: nil room")
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title(room), true)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, tr(title(room)), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	if line := dateLine(room); line != "" {
		pdf.CellFormat(0, 7, line, "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 7, "Travel mode: "+string(room.TravelMode), "", 1, "L", false, 0, "")
	if line := weatherLine(room.Weather); line != "" {
		pdf.CellFormat(0, 7, tr(line), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 6, tr(weather.Recommendation(parseWeather(room.Weather))), "", "L", false)
		pdf.SetFont("Helvetica", "", 11)
	}
	pdf.Ln(4)

	// 表头
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(41, 128, 185)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(120, 8, "Item", "1", 0, "L", true, 0, "")
	pdf.CellFormat(50, 8, "Status", "1", 1, "C", true, 0, "")

	pdf.SetTextColor(0, 0, 0)
	for _, sec := range sections(room.PackingList) {
		// 分类标题行
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetFillColor(236, 240, 241)
		pdf.CellFormat(170, 7, tr(sec.heading), "1", 1, "L", true, 0, "")

		pdf.SetFont("Helvetica", "", 10)
		for _, item := range sec.items {
			status := "Not packed"
			if item.Checked {
				status = "Packed"
			}
			pdf.CellFormat(120, 7, tr(item.Text), "1", 0, "L", false, 0, "")
			pdf.CellFormat(50, 7, status, "1", 1, "C", false, 0, "")
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("export: render pdf: %w", err)
	}
	return nil
}

type section struct {
	heading string
	items   domain.PackingList
}

// sections 按分类把清单切成若干段，分类按首次出现的顺序排列
func sections(list domain.PackingList) []section {
	categories, groups := list.GroupByCategory()
	out := make([]section, 0, len(categories))
	for _, c := range categories {
		out = append(out, section{heading: categoryHeading(c), items: groups[c]})
	}
	return out
}

func categoryHeading(category string) string {
	if category == "" {
		return "Other"
	}
	return strings.ToUpper(category[:1]) + category[1:]
}

func title(room *domain.Room) string {
	dest := room.Destination
	if dest == "" {
		dest = room.Name
	}
	return "Travel Plan for " + dest
}

func dateLine(room *domain.Room) string {
	switch {
	case room.StartDate != nil && room.EndDate != nil:
		return fmt.Sprintf("Dates: %s - %s", room.StartDate.Format("2006-01-02"), room.EndDate.Format("2006-01-02"))
	case room.StartDate != nil:
		return "Departure: " + room.StartDate.Format("2006-01-02")
	}
	return ""
}

func weatherLine(raw []byte) string {
	snap := parseWeather(raw)
	if snap == nil {
		return ""
	}
	line := fmt.Sprintf("Weather: %.1f°C", snap.TempC)
	if snap.Description != "" {
		line += ", " + snap.Description
	}
	return line
}

func parseWeather(raw []byte) *weather.Snapshot {
	if len(raw) == 0 {
		return nil
	}
	snap, err := weather.ParseCurrent(raw)
	if err != nil {
		return nil
	}
	return snap
}
