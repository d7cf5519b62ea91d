package testutils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rongwang/sitetrack-server/internal/sheets"
)

// FirstDataRow is the sheet row of the first data row served by FakeSheet
const FirstDataRow = 2

// FakeSheet serves the values API and the cell-write webhook from memory
type FakeSheet struct {
	Server *httptest.Server

	mu        sync.Mutex
	rows      [][]string
	writes    []sheets.CellUpdate
	fetches   int
	failRows  map[int]bool
	fetchCode int
}

// NewFakeSheet starts a fake spreadsheet holding rows, where rows[0] is
// sheet row FirstDataRow. The server is closed when the test ends.
func NewFakeSheet(t *testing.T, rows [][]string) *FakeSheet {
	t.Helper()

	f := &FakeSheet{rows: rows, failRows: make(map[int]bool)}
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/spreadsheets/", f.serveValues)
	mux.HandleFunc("/webhook", f.serveWebhook)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// APIBase is the values API base URL
func (f *FakeSheet) APIBase() string { return f.Server.URL }

// WebhookURL is the cell-write endpoint
func (f *FakeSheet) WebhookURL() string { return f.Server.URL + "/webhook" }

// FailWritesTo makes the webhook answer 500 for a sheet row
func (f *FakeSheet) FailWritesTo(rowIndex int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRows[rowIndex] = true
}

// FailFetches makes the values API answer with status code; 0 restores it
func (f *FakeSheet) FailFetches(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCode = code
}

// Writes returns the cell updates the webhook accepted
func (f *FakeSheet) Writes() []sheets.CellUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sheets.CellUpdate(nil), f.writes...)
}

// Fetches returns how many times the values API was read
func (f *FakeSheet) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// Cell returns the current value at a sheet row and column letter
func (f *FakeSheet) Cell(rowIndex int, letter string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := rowIndex - FirstDataRow
	col := sheets.ColumnIndex(letter)
	if i < 0 || i >= len(f.rows) || col >= len(f.rows[i]) {
		return ""
	}
	return f.rows[i][col]
}

func (f *FakeSheet) serveValues(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetches++
	if f.fetchCode != 0 {
		http.Error(w, "backend error", f.fetchCode)
		return
	}

	values := make([][]string, len(f.rows))
	for i, row := range f.rows {
		values[i] = append([]string(nil), row...)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"range":  strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/"),
		"values": values,
	})
}

func (f *FakeSheet) serveWebhook(w http.ResponseWriter, r *http.Request) {
	var update sheets.CellUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failRows[update.RowIndex] {
		http.Error(w, "write rejected", http.StatusInternalServerError)
		return
	}

	i := update.RowIndex - FirstDataRow
	col := sheets.ColumnIndex(update.ColumnLetter)
	if i >= 0 && i < len(f.rows) {
		for len(f.rows[i]) <= col {
			f.rows[i] = append(f.rows[i], "")
		}
		f.rows[i][col] = update.NewValue
	}
	f.writes = append(f.writes, update)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"success":true}`))
}

// SampleRows is a small project sheet; row 4 has no name and is skipped
func SampleRows() [][]string {
	return [][]string{
		{"Harbour View", "Residential", "Sydney", "3", "Acme Build", "In Progress", "$120,000", "45,500", "40%", "2024-01-15", "2024-09-30", "Kitchen refit"},
		{"Riverside Lofts", "Commercial", "Melbourne", "1", "BuildCo", "Planning", "80000", "0", "0", "2024-03-01", "2025-02-28", ""},
		{"", "Residential", "Perth", "", "", "", "", "", "", "", "", ""},
		{"Hilltop Villa", "Residential", "Brisbane", "2", "Stone & Co", "Complete", "250000", "249000", "100", "15/06/2023", "not set", "Handover done"},
	}
}
