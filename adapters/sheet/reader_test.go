package sheet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xuri/excelize/v2"

	"gokpi/domain/core"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "import.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

// TestReadCSV parses headers, dates, rooms, and numeric field columns.
func TestReadCSV(t *testing.T) {
	roomID := "0190b0ae-7f1d-7cbb-a30c-d251fd0e9e55"
	path := writeCSV(t, "Date,Room,revenue,deals_closed\n2024-06-14,"+roomID+",50000,10\n2024-06-15,,60000,12\n")

	rows, err := NewReader(path).Read()
	assert.NoError(t, err)
	assert.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, 2, first.Row)
	assert.Equal(t, core.NewDate(2024, time.June, 14), first.Date)
	if assert.NotNil(t, first.RoomID) {
		assert.Equal(t, core.RoomID(roomID), *first.RoomID)
	}
	assert.Equal(t, map[string]float64{"revenue": 50000, "deals_closed": 10}, first.Values)

	second := rows[1]
	assert.Equal(t, 3, second.Row)
	assert.Nil(t, second.RoomID)
	assert.Equal(t, 60000.0, second.Values["revenue"])
}

// TestReadCSVBadCells leaves unparseable dates zero and skips non-numeric
// values instead of failing the file.
func TestReadCSVBadCells(t *testing.T) {
	path := writeCSV(t, "date,revenue\nnot-a-date,100\n2024-06-14,n/a\n")

	rows, err := NewReader(path).Read()
	assert.NoError(t, err)
	assert.Len(t, rows, 2)

	assert.True(t, rows[0].Date.IsZero())
	assert.Equal(t, 100.0, rows[0].Values["revenue"])

	assert.False(t, rows[1].Date.IsZero())
	assert.Empty(t, rows[1].Values)
}

// TestReadCSVInvalidRoom marks the row instead of passing the label
// through to storage.
func TestReadCSVInvalidRoom(t *testing.T) {
	path := writeCSV(t, "date,room,revenue\n2024-06-14,floor-1,50000\n")

	rows, err := NewReader(path).Read()
	assert.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Nil(t, rows[0].RoomID)
	assert.Equal(t, `invalid room "floor-1"`, rows[0].Problem)
}

// TestReadCSVMissingDateColumn is a structural error.
func TestReadCSVMissingDateColumn(t *testing.T) {
	path := writeCSV(t, "revenue,deals_closed\n50000,10\n")

	_, err := NewReader(path).Read()
	assert.ErrorContains(t, err, `missing required "date" column`)
}

// TestReadCSVHeaderOnly needs at least one data row.
func TestReadCSVHeaderOnly(t *testing.T) {
	path := writeCSV(t, "date,revenue\n")

	_, err := NewReader(path).Read()
	assert.ErrorContains(t, err, "header row and at least one data row")
}

// TestReadMissingFile reports the path.
func TestReadMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "nope.csv")).Read()
	assert.ErrorContains(t, err, "file not found")
}

// TestReadExcel reads the first sheet of an xlsx workbook.
func TestReadExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import.xlsx")
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	cells := [][]interface{}{
		{"date", "revenue", "deals_closed"},
		{"2024-06-14", 50000, 10},
	}
	for i, row := range cells {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save xlsx: %v", err)
	}

	rows, err := NewReader(path).Read()
	assert.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, core.NewDate(2024, time.June, 14), rows[0].Date)
	assert.Equal(t, map[string]float64{"revenue": 50000, "deals_closed": 10}, rows[0].Values)
}
