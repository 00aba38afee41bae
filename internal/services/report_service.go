package services

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/phpdave11/gofpdf"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ReportService renders maintenance results as PDF reports
type ReportService struct {
	dir    string
	logger *logrus.Logger
	now    func() time.Time
}

// NewReportService creates a report service writing into dir
func NewReportService(dir string, logger *logrus.Logger) *ReportService {
	return &ReportService{dir: dir, logger: logger, now: time.Now}
}

// SeatReport renders a seat repair run
func (s *ReportService) SeatReport(result *models.FixSeatsResult) ([]byte, error) {
	summary := []string{
		fmt.Sprintf("Ghe da sua: %d", result.FixedCount),
		fmt.Sprintf("Ghe dong bo: %d", result.SyncCount),
		fmt.Sprintf("Chuyen bo qua: %d", result.ConflictCount),
	}
	return s.render("BAO CAO SUA GHE", summary, result.Logs)
}

// PaymentReport renders a payment repair run
func (s *ReportService) PaymentReport(result *models.FixPaymentsResult) ([]byte, error) {
	summary := []string{
		fmt.Sprintf("Thanh toan da xoa: %d", result.DeletedCount),
		fmt.Sprintf("Don da sua: %d", result.FixedCount),
		fmt.Sprintf("Don chenh lech: %d", result.MismatchCount),
		fmt.Sprintf("Don bo qua: %d", result.ConflictCount),
	}
	return s.render("BAO CAO SUA THANH TOAN", summary, result.Logs)
}

// SaveSeatReport writes a seat repair report into the report directory
func (s *ReportService) SaveSeatReport(result *models.FixSeatsResult) (string, error) {
	pdf, err := s.SeatReport(result)
	if err != nil {
		return "", err
	}
	return s.save("fix-seats", pdf)
}

// SavePaymentReport writes a payment repair report into the report directory
func (s *ReportService) SavePaymentReport(result *models.FixPaymentsResult) (string, error) {
	pdf, err := s.PaymentReport(result)
	if err != nil {
		return "", err
	}
	return s.save("fix-payments", pdf)
}

func (s *ReportService) save(prefix string, pdf []byte) (string, error) {
	if s.dir == "" {
		return "", fmt.Errorf("report directory is not configured")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s.pdf", prefix, s.now().Format("20060102-150405"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	s.logger.WithField("path", path).Info("Maintenance report written")
	return path, nil
}

func (s *ReportService) render(title string, summary []string, logs []models.MaintenanceLog) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(title, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, title)
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, "Thoi gian: "+s.now().Format("02/01/2006 15:04"))
	pdf.Ln(6)
	for _, line := range summary {
		pdf.Cell(0, 6, line)
		pdf.Ln(6)
	}
	pdf.Ln(4)

	widths := []float64{50, 30, 18, 18, 30, 105, 26}
	headers := []string{"Tuyen", "Ngay", "Ghe", "Ma don", "Hanh dong", "Chi tiet", "Chenh lech"}
	pdf.SetFont("Helvetica", "B", 9)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	for _, l := range logs {
		delta := ""
		if l.Delta != 0 {
			delta = fmt.Sprintf("%.0f", l.Delta)
		}
		cells := []string{l.Route, l.Date, l.SeatLabel, l.BookingCode, string(l.Action), l.Detail, delta}
		for i, c := range cells {
			pdf.CellFormat(widths[i], 6, fit(pdf, asciiFold(c), widths[i]), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(logs) == 0 {
		pdf.Cell(0, 7, "Khong co thay doi")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}

// fit trims s until it fits in a cell of the given width
func fit(pdf *gofpdf.Fpdf, s string, width float64) string {
	for len(s) > 0 && pdf.GetStringWidth(s) > width-2 {
		s = s[:len(s)-1]
	}
	return s
}

// asciiFold strips Vietnamese diacritics; the core PDF fonts only cover Latin-1
func asciiFold(s string) string {
	s = strings.NewReplacer("đ", "d", "Đ", "D", "→", "->").Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
