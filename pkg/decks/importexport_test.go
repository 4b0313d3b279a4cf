package decks

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/db"
	"github.com/xuri/excelize/v2"
)

func TestDetectCSVDelimiter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected rune
	}{
		{"comma", "term,definition\nhello,world\n", ','},
		{"tab", "term\tdefinition\nhello\tworld\n", '\t'},
		{"semicolon", "term;definition\nhello;world\n", ';'},
		{"single column", "hello\nworld\n", ','},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectCSVDelimiter([]byte(tt.input))
			if got != tt.expected {
				t.Fatalf("expected %q delimiter, got %q", tt.expected, got)
			}
		})
	}
}

func TestParseCardsCSV(t *testing.T) {
	data := append([]byte{}, utf8BOM...)
	data = append(data, strings.Join([]string{
		"Term;Definition;notes",
		"hola;adios;note",
		"uno;;missing-definition",
		";missing-term",
		"",
		"apple;แอปเปิล",
	}, "\n")...)

	cards, skipped, err := ParseCardsCSV(data)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(cards))
	}
	if cards[0].Term != "hola" || cards[0].Definition != "adios" {
		t.Fatalf("unexpected first card: %+v", cards[0])
	}
	if cards[1].Term != "apple" || cards[1].Definition != "แอปเปิล" {
		t.Fatalf("unexpected second card: %+v", cards[1])
	}
	if skipped != 2 {
		t.Fatalf("expected 2 skipped rows, got %d", skipped)
	}
}

func TestParseCardsCSVWithoutHeader(t *testing.T) {
	cards, skipped, err := ParseCardsCSV([]byte("cat,แมว\r\ndog,หมา\r\n"))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if len(cards) != 2 || skipped != 0 {
		t.Fatalf("expected 2 cards and 0 skipped, got %d and %d", len(cards), skipped)
	}
}

func TestParseCardsXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"term", "definition"},
		{"apple", "แอปเปิล"},
		{"", "orphan"},
		{"banana", "กล้วย"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("failed to write row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("failed to write workbook: %v", err)
	}

	cards, skipped, err := ParseCardsXLSX(bytes.NewReader(buf.Bytes()), "")
	if err != nil {
		t.Fatalf("ParseCardsXLSX returned error: %v", err)
	}
	if len(cards) != 2 || skipped != 1 {
		t.Fatalf("expected 2 cards and 1 skipped, got %d and %d", len(cards), skipped)
	}
	if cards[1].Term != "banana" || cards[1].Definition != "กล้วย" {
		t.Fatalf("unexpected card: %+v", cards[1])
	}

	if _, _, err := ParseCardsXLSX(bytes.NewReader([]byte("not a workbook")), ""); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for garbage input, got %v", err)
	}
}

func TestBuildExportCSV(t *testing.T) {
	cards := []db.Card{
		{Term: "hello", Definition: "world"},
		{Term: "comma,word", Definition: `quote"word`},
	}

	data, err := BuildExportCSV(cards)
	if err != nil {
		t.Fatalf("unexpected export error: %v", err)
	}
	if !bytes.HasPrefix(data, utf8BOM) {
		t.Fatalf("expected UTF-8 BOM prefix")
	}

	output := string(data[len(utf8BOM):])
	if !strings.HasPrefix(output, "term,definition\r\nhello,world\r\n") {
		t.Fatalf("expected header and first row with CRLF, got %q", output)
	}
	if !strings.Contains(output, "\"comma,word\",\"quote\"\"word\"") {
		t.Fatalf("expected quoted fields, got %q", output)
	}
}

func TestExportFilename(t *testing.T) {
	day := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		title string
		want  string
	}{
		{"Fruit", "fruit-20240131.csv"},
		{"  My Deck / v2 ", "my-deck-v2-20240131.csv"},
		{"ผลไม้", "ผลไม้-20240131.csv"},
		{"***", "deck-20240131.csv"},
	}
	for _, tt := range tests {
		if got := ExportFilename(tt.title, day); got != tt.want {
			t.Fatalf("ExportFilename(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}
