package decks

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/db"
	"github.com/xuri/excelize/v2"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const maxDelimiterSampleRecords = 20

// ParseCardsCSV reads term/definition pairs from the first two columns. The
// delimiter is sniffed among comma, tab and semicolon; a leading BOM and a
// term/definition header row are ignored. Blank or incomplete rows are
// skipped and counted.
func ParseCardsCSV(data []byte) ([]CardInput, int, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectCSVDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, apperr.Validationf("malformed CSV: %v", err)
		}
		rows = append(rows, record)
	}
	cards, skipped := cardsFromRows(rows)
	return cards, skipped, nil
}

// ParseCardsXLSX reads term/definition pairs from columns A and B of sheet,
// or of the first sheet when sheet is empty.
func ParseCardsXLSX(r io.Reader, sheet string) ([]CardInput, int, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, 0, apperr.Validationf("malformed XLSX: %v", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, 0, apperr.Validation("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, 0, apperr.Validationf("failed to read sheet %q: %v", sheet, err)
	}
	cards, skipped := cardsFromRows(rows)
	return cards, skipped, nil
}

func cardsFromRows(rows [][]string) ([]CardInput, int) {
	var cards []CardInput
	skipped := 0
	checkedHeader := false
	for _, record := range rows {
		if isEmptyRecord(record) {
			skipped++
			continue
		}
		if !checkedHeader {
			checkedHeader = true
			if isHeaderRecord(record) {
				continue
			}
		}
		if len(record) < 2 {
			skipped++
			continue
		}
		term := strings.TrimSpace(record[0])
		definition := strings.TrimSpace(record[1])
		if term == "" || definition == "" {
			skipped++
			continue
		}
		cards = append(cards, CardInput{Term: term, Definition: definition})
	}
	return cards, skipped
}

func detectCSVDelimiter(data []byte) rune {
	bestDelimiter := ','
	bestScore := 0
	for _, delimiter := range []rune{',', '\t', ';'} {
		score, err := scoreDelimiter(data, delimiter)
		if err != nil {
			continue
		}
		if score > bestScore {
			bestScore = score
			bestDelimiter = delimiter
		}
	}
	return bestDelimiter
}

// scoreDelimiter counts how many sampled records agree on the most common
// field count of at least two.
func scoreDelimiter(data []byte, delimiter rune) (int, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	counts := make(map[int]int)
	for seen := 0; seen < maxDelimiterSampleRecords; {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		if isEmptyRecord(record) {
			continue
		}
		seen++
		if len(record) >= 2 {
			counts[len(record)]++
		}
	}

	best := 0
	for _, n := range counts {
		best = max(best, n)
	}
	return best, nil
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

var headerNames = map[string]struct{}{
	"term":       {},
	"definition": {},
	"front":      {},
	"back":       {},
	"word":       {},
	"meaning":    {},
}

func isHeaderRecord(record []string) bool {
	if len(record) < 2 {
		return false
	}
	_, leftOK := headerNames[strings.ToLower(strings.TrimSpace(record[0]))]
	_, rightOK := headerNames[strings.ToLower(strings.TrimSpace(record[1]))]
	return leftOK && rightOK
}

// BuildExportCSV renders cards as a BOM-prefixed, CRLF-terminated CSV with a
// term,definition header.
func BuildExportCSV(cards []db.Card) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	writer := csv.NewWriter(&buf)
	writer.UseCRLF = true
	if err := writer.Write([]string{"term", "definition"}); err != nil {
		return nil, err
	}
	for _, card := range cards {
		if err := writer.Write([]string{card.Term, card.Definition}); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{M}\p{N}]+`)

// ExportFilename derives a download name such as "fruit-20240131.csv".
func ExportFilename(title string, now time.Time) string {
	slug := strings.Trim(unsafeFilenameChars.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if slug == "" {
		slug = "deck"
	}
	if r := []rune(slug); len(r) > 60 {
		slug = strings.TrimRight(string(r[:60]), "-")
	}
	return fmt.Sprintf("%s-%s.csv", slug, now.Format("20060102"))
}
