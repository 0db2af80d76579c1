package payout

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/xuri/excelize/v2"
)

// Format is an export file format
type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "xlsx"
)

// ParseFormat validates a requested export format, defaulting to CSV
func ParseFormat(v string) (Format, error) {
	switch Format(v) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatExcel:
		return FormatExcel, nil
	}
	return "", fmt.Errorf("unsupported export format %q", v)
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == FormatExcel {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Export is a rendered payout statement
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

var exportHeaders = []string{
	"Payout ID", "Affiliate", "Email", "Commission ID", "Conversion ID", "Level",
	"Amount", "Currency", "Earned At", "Status",
}

type exportRow struct {
	payout     *models.Payout
	affiliate  *models.Affiliate
	item       *models.PayoutItem
	commission *models.Commission
}

func (r exportRow) values() []string {
	return []string{
		r.payout.ID,
		r.affiliate.Name,
		r.affiliate.Email,
		r.item.CommissionID,
		r.commission.ConversionID,
		strconv.Itoa(r.commission.Level),
		r.item.Amount.StringFixed(2),
		r.payout.Currency,
		r.commission.CreatedAt.Format(time.RFC3339),
		string(r.commission.Status),
	}
}

// Export renders a payout statement with one row per item
func (s *Service) Export(ctx context.Context, id string, format Format) (*Export, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	aff, err := s.repo.GetAffiliate(ctx, detail.AffiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get affiliate: %w", err)
	}

	rows := make([]exportRow, 0, len(detail.Items))
	for _, it := range detail.Items {
		c, err := s.repo.GetCommission(ctx, it.CommissionID)
		if err != nil {
			return nil, fmt.Errorf("failed to get commission %s: %w", it.CommissionID, err)
		}
		rows = append(rows, exportRow{payout: detail.Payout, affiliate: aff, item: it, commission: c})
	}

	var data []byte
	switch format {
	case FormatExcel:
		data, err = generateExcel(detail.Payout, rows)
	default:
		format = FormatCSV
		data, err = generateCSV(detail.Payout, rows)
	}
	if err != nil {
		return nil, err
	}

	return &Export{
		Filename:    fmt.Sprintf("payout_%s_%s.%s", detail.PeriodStart.Format("2006-01-02"), detail.ID, format),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

// generateCSV writes the items followed by a total line
func generateCSV(p *models.Payout, rows []exportRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(exportHeaders); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range rows {
		if err := writer.Write(r.values()); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}
	if err := writer.Write([]string{"TOTAL", "", "", "", "", "", p.TotalAmount.StringFixed(2), p.Currency, "", ""}); err != nil {
		return nil, fmt.Errorf("failed to write total: %w", err)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// generateExcel renders the statement as a single styled sheet
func generateExcel(p *models.Payout, rows []exportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Payout"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// Set header style
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}

	for i, header := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i, r := range rows {
		row := i + 2
		for j, v := range r.values() {
			cell, _ := excelize.CoordinatesToCellName(j+1, row)
			if j == 6 {
				// amount column stays numeric
				amount, _ := r.item.Amount.Float64()
				f.SetCellValue(sheetName, cell, amount)
				continue
			}
			f.SetCellValue(sheetName, cell, v)
		}
	}

	totalRow := len(rows) + 2
	f.SetCellValue(sheetName, fmt.Sprintf("A%d", totalRow), "TOTAL")
	total, _ := p.TotalAmount.Float64()
	f.SetCellValue(sheetName, fmt.Sprintf("G%d", totalRow), total)
	f.SetCellStyle(sheetName, fmt.Sprintf("A%d", totalRow), fmt.Sprintf("J%d", totalRow), headerStyle)

	f.SetColWidth(sheetName, "A", "J", 18)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
