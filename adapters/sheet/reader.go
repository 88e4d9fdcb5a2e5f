// Package sheet reads tabular KPI data from Excel and CSV files into
// import rows: one date column, an optional room column, and one numeric
// column per data field.
package sheet

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"gokpi/app"
	"gokpi/domain/core"
)

// Column headers with special meaning; everything else is a field column.
const (
	dateHeader = "date"
	roomHeader = "room"
)

// Reader handles reading Excel and CSV files
type Reader struct {
	filePath string
	fileType string // "xlsx" or "csv"
}

// NewReader creates a reader for the given file, dispatching on extension
func NewReader(filePath string) *Reader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &Reader{filePath: filePath, fileType: fileType}
}

// Read parses the file into import rows. Cell-level problems are reported
// per row by the import service; this only fails on structural errors.
func (r *Reader) Read() ([]app.ImportRow, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSVRows()
	case "xlsx":
		rows, err = r.readExcelRows()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("file must have a header row and at least one data row")
	}
	return r.processRows(rows)
}

func (r *Reader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func (r *Reader) readCSVRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

func (r *Reader) processRows(raw [][]string) ([]app.ImportRow, error) {
	headers := make([]string, len(raw[0]))
	for i, header := range raw[0] {
		headers[i] = strings.TrimSpace(header)
	}

	dateCol, roomCol := -1, -1
	for i, header := range headers {
		switch strings.ToLower(header) {
		case dateHeader:
			dateCol = i
		case roomHeader:
			roomCol = i
		}
	}
	if dateCol < 0 {
		return nil, fmt.Errorf("missing required %q column", dateHeader)
	}

	imports := make([]app.ImportRow, 0, len(raw)-1)
	for i := 1; i < len(raw); i++ {
		row := raw[i]
		imported := app.ImportRow{
			Row:    i + 1, // 1-based, counting the header
			Values: make(map[string]float64),
		}

		for j, cell := range row {
			if j >= len(headers) {
				break
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			switch j {
			case dateCol:
				date, err := core.ParseDate(cell)
				if err != nil {
					// Leave the date zero; the import service reports the row
					continue
				}
				imported.Date = date
			case roomCol:
				// Rooms are keyed by UUID in storage; anything else would
				// only surface as a driver error rows later.
				if err := uuid.Validate(cell); err != nil {
					imported.Problem = fmt.Sprintf("invalid room %q", cell)
					continue
				}
				roomID := core.RoomID(cell)
				imported.RoomID = &roomID
			default:
				value, err := strconv.ParseFloat(cell, 64)
				if err != nil {
					continue // non-numeric cells are skipped, not fatal
				}
				imported.Values[headers[j]] = value
			}
		}
		imports = append(imports, imported)
	}
	return imports, nil
}
