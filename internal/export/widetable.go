// Package export flattens the sparse schedule matrix into the dense wide
// table consumed by the normalization pipeline.
package export

import (
	"encoding/csv"
	"fmt"
	"os"

	"example.com/schedule/internal/domain"
)

// HeaderLabel is the fixed first column header of the wide table.
const HeaderLabel = "Activity"

// BuildTable converts a matrix snapshot into a dense rectangular table: one
// header row, then one row per activity in position order with a status
// column per visit in position order. Pairs without a cell densify to "".
// Output depends only on position indices, never on cell insertion order.
func BuildTable(matrix domain.Matrix) ([][]string, error) {
	if len(matrix.Visits) == 0 || len(matrix.Activities) == 0 {
		return nil, domain.ErrEmptyMatrix
	}

	type cellKey struct {
		visitID    string
		activityID string
	}
	statusByKey := make(map[cellKey]string, len(matrix.Cells))
	for _, cell := range matrix.Cells {
		statusByKey[cellKey{cell.VisitID, cell.ActivityID}] = cell.Status
	}

	header := make([]string, 0, len(matrix.Visits)+1)
	header = append(header, HeaderLabel)
	for _, visit := range matrix.Visits {
		label := visit.RawHeader
		if label == "" {
			label = visit.Name
		}
		header = append(header, label)
	}

	table := make([][]string, 0, len(matrix.Activities)+1)
	table = append(table, header)
	for _, activity := range matrix.Activities {
		row := make([]string, 0, len(matrix.Visits)+1)
		row = append(row, activity.Name)
		for _, visit := range matrix.Visits {
			row = append(row, statusByKey[cellKey{visit.ID, activity.ID}])
		}
		table = append(table, row)
	}
	return table, nil
}

// CSVWriter writes the dense table as an RFC 4180 CSV file. It implements
// domain.WideTableWriter.
type CSVWriter struct{}

// Write serializes the matrix to path, replacing any previous file.
func (CSVWriter) Write(matrix domain.Matrix, path string) error {
	table, err := BuildTable(matrix)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wide table: %w", err)
	}

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(table); err != nil {
		file.Close()
		return fmt.Errorf("write wide table: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close wide table: %w", err)
	}
	return nil
}
