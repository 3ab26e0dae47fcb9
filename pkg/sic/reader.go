package sic

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxCodeLen filters out table headings that leak into the code column.
const maxCodeLen = 10

// Code is one row of the SIC reference list.
type Code struct {
	Code        string
	Description string
	Section     Section
}

// ReadCSV reads "sic_code,description" rows. The header row is required.
// Blank rows, section headings and over-long codes are skipped.
func ReadCSV(r io.Reader) ([]Code, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("sic csv: missing header")
		}
		return nil, fmt.Errorf("sic csv header: %w", err)
	}

	codeCol, descCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "sic_code", "code":
			codeCol = i
		case "description":
			descCol = i
		}
	}
	if codeCol < 0 || descCol < 0 {
		return nil, fmt.Errorf("sic csv: header must contain sic_code and description (got %v)", header)
	}

	var codes []Code
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("sic csv line %d: %w", line, err)
		}
		if codeCol >= len(record) || descCol >= len(record) {
			continue
		}

		code := strings.TrimSpace(record[codeCol])
		if code == "" || strings.Contains(code, "Section") || len(code) > maxCodeLen {
			continue
		}
		codes = append(codes, Code{
			Code:        code,
			Description: strings.TrimSpace(record[descCol]),
			Section:     SectionFor(code),
		})
	}
	return codes, nil
}
