package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ticketsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(t *testing.T) (*http.ServeMux, *SheetsService) {
	t.Helper()
	ctx := context.Background()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(ctx, option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return mux, NewSheetsServiceFrom(srv, "sid", "Tickets", nil)
}

func decodeValueRange(t *testing.T, r *http.Request) sheets.ValueRange {
	t.Helper()
	var vr sheets.ValueRange
	require.NoError(t, json.NewDecoder(r.Body).Decode(&vr))
	return vr
}

func row(id string) []string {
	r := make([]string, len(models.CanonicalHeader))
	r[0] = id
	return r
}

func TestSheetsService_TestConnection(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/sid", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.Spreadsheet{SpreadsheetId: "sid"})
	})
	assert.NoError(t, s.TestConnection(context.Background()))
}

func TestSheetsService_EnsureSheet(t *testing.T) {
	t.Run("Existing", func(t *testing.T) {
		mux, s := setupMockServer(t)
		mux.HandleFunc("/v4/spreadsheets/sid", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(sheets.Spreadsheet{
				Sheets: []*sheets.Sheet{{Properties: &sheets.SheetProperties{Title: "Tickets", SheetId: 7}}},
			})
		})
		assert.NoError(t, s.EnsureSheet(context.Background()))
	})

	t.Run("Missing", func(t *testing.T) {
		mux, s := setupMockServer(t)
		var created, headerWritten bool
		mux.HandleFunc("/v4/spreadsheets/sid", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(sheets.Spreadsheet{
				Sheets: []*sheets.Sheet{{Properties: &sheets.SheetProperties{Title: "Other"}}},
			})
		})
		mux.HandleFunc("/v4/spreadsheets/sid:batchUpdate", func(w http.ResponseWriter, r *http.Request) {
			var req sheets.BatchUpdateSpreadsheetRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Requests, 1)
			assert.Equal(t, "Tickets", req.Requests[0].AddSheet.Properties.Title)
			created = true
			_ = json.NewEncoder(w).Encode(sheets.BatchUpdateSpreadsheetResponse{})
		})
		mux.HandleFunc("/v4/spreadsheets/sid/values/Tickets!A1", func(w http.ResponseWriter, r *http.Request) {
			vr := decodeValueRange(t, r)
			require.Len(t, vr.Values, 1)
			assert.Equal(t, "id", vr.Values[0][0])
			headerWritten = true
			_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
		})

		require.NoError(t, s.EnsureSheet(context.Background()))
		assert.True(t, created)
		assert.True(t, headerWritten)
	})
}

func TestSheetsService_WriteRowsAppend(t *testing.T) {
	mux, s := setupMockServer(t)
	s.chunkSize = 2

	var mu sync.Mutex
	var batches []int
	mux.HandleFunc("/v4/spreadsheets/sid/values/Tickets!A1:append", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "INSERT_ROWS", r.URL.Query().Get("insertDataOption"))
		vr := decodeValueRange(t, r)

		mu.Lock()
		batches = append(batches, len(vr.Values))
		mu.Unlock()

		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})
	})

	err := s.WriteRows(context.Background(), [][]string{row("1"), row("2"), row("3")}, ModeAppend)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, batches)
}

func TestSheetsService_ExistingIDs(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/sid/values/Tickets!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{
			Values: [][]interface{}{{"id"}, {"123"}, {}, {456.0}},
		})
	})

	ids, err := s.ExistingIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"123": 2, "456": 4}, ids)
}

func TestSheetsService_UpsertRows(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/sid/values/Tickets!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"id"}, {"10"}, {"11"}}})
	})

	var updatedRanges []string
	mux.HandleFunc("/v4/spreadsheets/sid/values:batchUpdate", func(w http.ResponseWriter, r *http.Request) {
		var req sheets.BatchUpdateValuesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for _, d := range req.Data {
			updatedRanges = append(updatedRanges, d.Range)
		}
		_ = json.NewEncoder(w).Encode(sheets.BatchUpdateValuesResponse{})
	})

	var appended [][]interface{}
	mux.HandleFunc("/v4/spreadsheets/sid/values/Tickets!A1:append", func(w http.ResponseWriter, r *http.Request) {
		appended = decodeValueRange(t, r).Values
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})
	})

	err := s.UpsertRows(context.Background(), [][]string{row("11"), row("12")})
	require.NoError(t, err)

	assert.Equal(t, []string{"Tickets!A3"}, updatedRanges)
	require.Len(t, appended, 1)
	assert.Equal(t, "12", appended[0][0])
}

func TestSheetsService_WriteRowsReplace(t *testing.T) {
	mux, s := setupMockServer(t)
	s.chunkSize = 2

	mux.HandleFunc("/v4/spreadsheets/sid", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.Spreadsheet{
			Sheets: []*sheets.Sheet{{Properties: &sheets.SheetProperties{Title: "Tickets"}}},
		})
	})
	cleared := false
	mux.HandleFunc("/v4/spreadsheets/sid/values/Tickets:clear", func(w http.ResponseWriter, r *http.Request) {
		cleared = true
		_ = json.NewEncoder(w).Encode(sheets.ClearValuesResponse{})
	})

	writes := map[string]int{}
	for _, cell := range []string{"A1", "A3"} {
		mux.HandleFunc("/v4/spreadsheets/sid/values/Tickets!"+cell, func(w http.ResponseWriter, r *http.Request) {
			assert.True(t, cleared, "sheet must be cleared before writing")
			writes[cell] = len(decodeValueRange(t, r).Values)
			_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
		})
	}

	err := s.WriteRows(context.Background(), [][]string{row("1"), row("2"), row("3")}, ModeReplace)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"A1": 2, "A3": 2}, writes)
}

func TestServiceAccountEmail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"client_email":"bot@project.iam.gserviceaccount.com"}`), 0o600))

	email, err := ServiceAccountEmail(path)
	require.NoError(t, err)
	assert.Equal(t, "bot@project.iam.gserviceaccount.com", email)

	_, err = ServiceAccountEmail(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "Tickets", quoteSheetName("Tickets"))
	assert.Equal(t, "'My Tickets'", quoteSheetName("My Tickets"))
	assert.Equal(t, "'Bob''s'", quoteSheetName("Bob's"))

	assert.Equal(t, "42", cellString(42.0))
	assert.Equal(t, "x", cellString(" x "))
}
