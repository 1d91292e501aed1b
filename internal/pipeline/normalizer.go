// Package pipeline runs the normalization step over an exported wide table.
//
// The engine's contract with the pipeline is narrow: it receives the wide
// table path, an output directory and an auxiliary-store path, and returns an
// opaque summary. Local melts the wide table into long form, loads it into an
// SQLite auxiliary store and writes long.csv plus summary.json artifacts.
package pipeline

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Local is the in-process normalization pipeline.
type Local struct{}

type summary struct {
	Visits      int            `json:"visits"`
	Activities  int            `json:"activities"`
	FilledCells int            `json:"filled_cells"`
	TotalCells  int            `json:"total_cells"`
	FillRate    float64        `json:"fill_rate"`
	Statuses    map[string]int `json:"statuses"`
	LongTable   string         `json:"long_table"`
	AuxStore    string         `json:"aux_store"`
}

// Normalize converts the wide table into long (activity, visit, status) rows,
// persists them to the auxiliary store and the output directory, and returns
// the run summary as JSON.
func (Local) Normalize(ctx context.Context, tablePath, outDir, auxStorePath string) (json.RawMessage, error) {
	table, err := readTable(tablePath)
	if err != nil {
		return nil, err
	}
	if len(table) < 2 || len(table[0]) < 2 {
		return nil, fmt.Errorf("wide table %s has no visits or activities", tablePath)
	}

	header := table[0]
	visitHeaders := header[1:]

	type longRow struct {
		activity string
		visit    string
		status   string
	}
	longRows := make([]longRow, 0, (len(table)-1)*len(visitHeaders))
	statuses := make(map[string]int)
	filled := 0
	for _, row := range table[1:] {
		if len(row) != len(header) {
			return nil, fmt.Errorf("wide table %s is ragged: row %q", tablePath, row)
		}
		for i, visit := range visitHeaders {
			status := row[i+1]
			longRows = append(longRows, longRow{activity: row[0], visit: visit, status: status})
			if status != "" {
				filled++
				statuses[status]++
			}
		}
	}

	longPath := filepath.Join(outDir, "long.csv")
	longFile, err := os.Create(longPath)
	if err != nil {
		return nil, err
	}
	writer := csv.NewWriter(longFile)
	records := make([][]string, 0, len(longRows)+1)
	records = append(records, []string{"activity", "visit", "status"})
	for _, row := range longRows {
		records = append(records, []string{row.activity, row.visit, row.status})
	}
	if err := writer.WriteAll(records); err != nil {
		longFile.Close()
		return nil, err
	}
	if err := longFile.Close(); err != nil {
		return nil, err
	}

	if err := loadAuxStore(ctx, auxStorePath, records[1:]); err != nil {
		return nil, err
	}

	total := len(longRows)
	out := summary{
		Visits:      len(visitHeaders),
		Activities:  len(table) - 1,
		FilledCells: filled,
		TotalCells:  total,
		Statuses:    statuses,
		LongTable:   longPath,
		AuxStore:    auxStorePath,
	}
	if total > 0 {
		out.FillRate = float64(filled) / float64(total)
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(outDir, "summary.json"), body, 0o644); err != nil {
		return nil, err
	}
	return body, nil
}

func readTable(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

func loadAuxStore(ctx context.Context, path string, rows [][]string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS soa_long`); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE soa_long (activity TEXT NOT NULL, visit TEXT NOT NULL, status TEXT NOT NULL)`); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO soa_long (activity, visit, status) VALUES (?,?,?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row[0], row[1], row[2]); err != nil {
			stmt.Close()
			tx.Rollback()
			return err
		}
	}
	stmt.Close()
	return tx.Commit()
}
