package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"fitpass/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet = "Bookings"
	revenueSheet  = "Revenue"
)

var bookingHeaders = []string{
	"Created", "Code", "Kind", "Listing", "User", "Qty", "Pass days",
	"Amount", "Platform fee", "Owner payout", "Currency", "Provider", "Payment", "Status",
}

var revenueHeaders = []string{
	"Listing", "Name", "Bookings", "Qty", "Amount", "Platform fee", "Owner payout",
}

// Source is the read side the report needs.
type Source interface {
	ListBookings(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	GetListingRevenue(ctx context.Context) ([]*models.ListingRevenue, error)
}

// Exporter renders bookings and the per-listing revenue split to xlsx.
type Exporter struct {
	source Source
	dir    string
	logger *zerolog.Logger
}

func NewExporter(source Source, dir string, logger *zerolog.Logger) *Exporter {
	return &Exporter{source: source, dir: dir, logger: logger}
}

// Build assembles the workbook. The caller closes it.
func (e *Exporter) Build(ctx context.Context, start, end time.Time) (*excelize.File, error) {
	bookings, err := e.source.ListBookings(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	revenue, err := e.source.GetListingRevenue(ctx)
	if err != nil {
		return nil, fmt.Errorf("load revenue: %w", err)
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(bookingsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(revenueSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	writeHeader(f, bookingsSheet, bookingHeaders, headerStyle)
	writeHeader(f, revenueSheet, revenueHeaders, headerStyle)

	for i, b := range bookings {
		writeRow(f, bookingsSheet, i+2, []interface{}{
			b.CreatedAt.UTC().Format("2006-01-02 15:04"),
			b.Code,
			b.Kind,
			b.ListingName,
			b.UserID,
			b.Quantity,
			b.PassDurationDays,
			major(b.AmountMinor),
			major(b.PlatformFeeMinor),
			major(b.OwnerPayoutMinor),
			b.Currency,
			b.PaymentProvider,
			b.PaymentID,
			b.Status,
		})
	}

	var totalAmount, totalFee, totalPayout int64
	for i, r := range revenue {
		writeRow(f, revenueSheet, i+2, []interface{}{
			r.ListingID,
			r.ListingName,
			r.Bookings,
			r.Quantity,
			major(r.AmountMinor),
			major(r.PlatformFeeMinor),
			major(r.OwnerPayoutMinor),
		})
		totalAmount += r.AmountMinor
		totalFee += r.PlatformFeeMinor
		totalPayout += r.OwnerPayoutMinor
	}
	totalRow := len(revenue) + 2
	writeRow(f, revenueSheet, totalRow, []interface{}{
		"Total", "", nil, nil, major(totalAmount), major(totalFee), major(totalPayout),
	})
	totalStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	first, _ := excelize.CoordinatesToCellName(1, totalRow)
	last, _ := excelize.CoordinatesToCellName(len(revenueHeaders), totalRow)
	_ = f.SetCellStyle(revenueSheet, first, last, totalStyle)

	_ = f.SetColWidth(bookingsSheet, "A", "N", 16)
	_ = f.SetColWidth(revenueSheet, "A", "G", 18)
	_ = f.DeleteSheet("Sheet1")

	return f, nil
}

// Write streams the workbook to w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, start, end time.Time) error {
	f, err := e.Build(ctx, start, end)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Save writes the workbook into the export directory and returns its path.
func (e *Exporter) Save(ctx context.Context, start, end time.Time) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	f, err := e.Build(ctx, start, end)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx", start.Format("2006-01-02"), end.Format("2006-01-02"))
	path := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	e.logger.Info().Str("file_path", path).Msg("booking report created")
	return path, nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) {
	for i, v := range values {
		if v == nil {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func major(minor int64) float64 {
	return float64(minor) / 100
}
