package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoNumberColumn is returned when the input has no recognizable
// "number"-like column.
var ErrNoNumberColumn = errors.New("no number column found in input")

// Recipient is one normalized row of an import: a 10-15 digit destination
// address plus an optional display name.
type Recipient struct {
	Number string
	Name   *string
}

// Importer normalizes raw tabular input into an ordered recipient list.
// Supported inputs: CSV and HTML tables (paste-from-spreadsheet exports).
type Importer struct {
	// DefaultCountryCode is prefixed when a number has only 10-11 digits.
	DefaultCountryCode string
}

func New(defaultCountryCode string) *Importer {
	if defaultCountryCode == "" {
		defaultCountryCode = "55"
	}
	return &Importer{DefaultCountryCode: defaultCountryCode}
}

var numberHeaders = []string{"number", "numero", "número", "phone", "telefone", "celular", "whatsapp", "msisdn"}
var nameHeaders = []string{"name", "nome", "contact", "contato"}

func isNumberHeader(h string) bool {
	h = strings.ToLower(strings.TrimSpace(h))
	for _, n := range numberHeaders {
		if h == n {
			return true
		}
	}
	return false
}

func isNameHeader(h string) bool {
	h = strings.ToLower(strings.TrimSpace(h))
	for _, n := range nameHeaders {
		if h == n {
			return true
		}
	}
	return false
}

// Parse sniffs the payload format and returns the normalized, de-duplicated
// recipient list in input order.
func (im *Importer) Parse(data []byte) ([]Recipient, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if trimmed[0] == '<' {
		return im.parseHTML(trimmed)
	}
	return im.parseCSV(trimmed)
}

func (im *Importer) parseCSV(data []byte) ([]Recipient, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.Comma = sniffDelimiter(data)

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed csv: %w", err)
		}
		rows = append(rows, record)
	}
	return im.normalizeRows(rows)
}

func (im *Importer) parseHTML(data []byte) ([]Recipient, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("malformed html: %w", err)
	}

	var rows [][]string
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		var row []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			row = append(row, strings.TrimSpace(cell.Text()))
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})
	if len(rows) == 0 {
		return nil, fmt.Errorf("no table rows found in html input")
	}
	return im.normalizeRows(rows)
}

// sniffDelimiter picks ';' over ',' when the first line carries more of them.
// Spreadsheet exports in pt-BR locales default to semicolons.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}

func (im *Importer) normalizeRows(rows [][]string) ([]Recipient, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty input")
	}

	numberCol, nameCol, dataRows := locateColumns(rows)
	if numberCol < 0 {
		return nil, ErrNoNumberColumn
	}

	seen := make(map[string]bool)
	var recipients []Recipient
	for _, row := range dataRows {
		if numberCol >= len(row) {
			continue
		}
		number, ok := im.NormalizeNumber(row[numberCol])
		if !ok || seen[number] {
			continue
		}
		seen[number] = true

		rec := Recipient{Number: number}
		if nameCol >= 0 && nameCol < len(row) {
			if name := strings.TrimSpace(row[nameCol]); name != "" {
				rec.Name = &name
			}
		}
		recipients = append(recipients, rec)
	}

	if len(recipients) == 0 {
		return nil, fmt.Errorf("no valid recipients in input")
	}
	return recipients, nil
}

// locateColumns finds the number and name columns. A header row wins; without
// one, the first column whose first value normalizes to digits is assumed to
// be the number and the following column the name.
func locateColumns(rows [][]string) (numberCol, nameCol int, dataRows [][]string) {
	numberCol, nameCol = -1, -1

	header := rows[0]
	for i, h := range header {
		if numberCol < 0 && isNumberHeader(h) {
			numberCol = i
		}
		if nameCol < 0 && isNameHeader(h) {
			nameCol = i
		}
	}
	if numberCol >= 0 {
		return numberCol, nameCol, rows[1:]
	}

	// Headerless input: probe the first row.
	for i, v := range header {
		if len(digitsOf(v)) >= 10 {
			numberCol = i
			if i+1 < len(header) {
				nameCol = i + 1
			}
			return numberCol, nameCol, rows
		}
	}
	return -1, -1, nil
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeNumber strips formatting, enforces the 10-15 digit channel address
// form and prefixes the default country code for 10-11 digit local numbers.
func (im *Importer) NormalizeNumber(raw string) (string, bool) {
	digits := digitsOf(raw)
	if len(digits) < 10 || len(digits) > 15 {
		return "", false
	}
	if len(digits) <= 11 {
		digits = im.DefaultCountryCode + digits
	}
	if len(digits) > 15 {
		return "", false
	}
	return digits, true
}
