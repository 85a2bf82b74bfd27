package inventory

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExportRow is one line of the stock export.
type ExportRow struct {
	ItemID      int64
	Reference   string
	Label       string
	Unit        string
	OnHand      float64
	Reserved    float64
	UnitPriceHT float64
}

// ExportPort provides the rows of the export.
type ExportPort interface {
	ExportRows(ctx context.Context) ([]ExportRow, error)
}

var exportHeaders = []string{"Référence", "Désignation", "Unité", "En stock", "Réservé", "Disponible", "PU HT"}

// ExportXLSX renders the current stock as an xlsx workbook.
func ExportXLSX(ctx context.Context, repo ExportPort) (*bytes.Buffer, error) {
	rows, err := repo.ExportRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: export rows: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Stock"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for col, h := range exportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}

	for i, row := range rows {
		values := []interface{}{
			row.Reference,
			row.Label,
			row.Unit,
			row.OnHand,
			row.Reserved,
			row.OnHand - row.Reserved,
			row.UnitPriceHT,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("inventory: write workbook: %w", err)
	}
	return buf, nil
}

// ExportFilename builds the attachment name with the export date.
func ExportFilename(now time.Time) string {
	return fmt.Sprintf("stock-%s.xlsx", now.Format("2006-01-02"))
}
