package pipeline

import (
	"io"
	"math"
	"strconv"

	"github.com/xuri/excelize/v2"

	"wqm/internal"
)

const xlsxSheet = "Canonical"

// ExportTableToXLSX writes the canonical table to a single-sheet workbook.
// Cells whose text round-trips through a float are stored as numbers;
// everything else, placeholders and zero-padded dates included, stays text.
func ExportTableToXLSX(table internal.OutputTable, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), xlsxSheet); err != nil {
		return err
	}

	for i, h := range table.Header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(xlsxSheet, cell, h); err != nil {
			return err
		}
	}

	for i, row := range table.Rows {
		r := i + 2
		for c, value := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r)
			if err := f.SetCellValue(xlsxSheet, cell, cellValue(value)); err != nil {
				return err
			}
		}
	}

	if err := f.SetPanes(xlsxSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	return writeAtomic(outputPath, func(w io.Writer) error {
		_, err := f.WriteTo(w)
		return err
	})
}

func cellValue(v string) any {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return v
	}
	if strconv.FormatFloat(f, 'f', -1, 64) != v {
		return v
	}
	return f
}
