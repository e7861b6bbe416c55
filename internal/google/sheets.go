package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"ticketsync/internal/config"
	"ticketsync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// WriteMode selects how WriteRows lands rows in the sheet.
type WriteMode int

const (
	ModeAppend WriteMode = iota
	ModeReplace
)

// SheetsService mirrors ticket rows into one tab of a spreadsheet.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	chunkSize     int
	logger        *zerolog.Logger
}

// NewSheetsService authenticates with a service-account key file.
func NewSheetsService(ctx context.Context, cfg config.GoogleConfig, logger *zerolog.Logger) (*SheetsService, error) {
	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return NewSheetsServiceFrom(srv, cfg.SpreadsheetID, cfg.SheetName, logger), nil
}

// NewSheetsServiceFrom wraps an already configured Sheets client.
func NewSheetsServiceFrom(srv *sheets.Service, spreadsheetID, sheetName string, logger *zerolog.Logger) *SheetsService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if sheetName == "" {
		sheetName = "Tickets"
	}
	return &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		chunkSize:     models.SheetChunkSize,
		logger:        logger,
	}
}

// SheetName is the target tab.
func (s *SheetsService) SheetName() string {
	return s.sheetName
}

// TestConnection reads the spreadsheet metadata.
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Get(s.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// ServiceAccountEmail returns the client_email of a service-account key file.
func ServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}

// EnsureSheet creates the tab with the canonical header when it does not exist.
func (s *SheetsService) EnsureSheet(ctx context.Context) error {
	exists, err := s.sheetExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: s.sheetName},
			},
		}},
	}
	if _, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to create sheet %q: %w", s.sheetName, err)
	}
	s.logger.Info().Str("sheet", s.sheetName).Msg("sheet created")

	header := &sheets.ValueRange{Values: toValues([][]string{models.CanonicalHeader})}
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.a1("A1"), header).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

func (s *SheetsService) sheetExists(ctx context.Context) (bool, error) {
	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("unable to get spreadsheet: %w", err)
	}
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.sheetName {
			return true, nil
		}
	}
	return false, nil
}

// WriteRows appends rows below the existing data or, with ModeReplace, clears the
// tab and writes the canonical header followed by rows.
func (s *SheetsService) WriteRows(ctx context.Context, rows [][]string, mode WriteMode) error {
	if mode == ModeReplace {
		return s.ReplaceAll(ctx, models.CanonicalHeader, rows)
	}
	return s.AppendRows(ctx, rows)
}

// AppendRows adds rows at the end of the tab in chunks.
func (s *SheetsService) AppendRows(ctx context.Context, rows [][]string) error {
	for start := 0; start < len(rows); start += s.chunkSize {
		end := min(start+s.chunkSize, len(rows))
		chunk := rows[start:end]

		_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.a1("A1"), &sheets.ValueRange{Values: toValues(chunk)}).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("failed to append rows %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// ExistingIDs reads column A and returns id -> 1-based row, skipping the header.
func (s *SheetsService) ExistingIDs(ctx context.Context) (map[string]int, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A:A")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read id column: %w", err)
	}

	ids := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		if i == 0 || len(row) == 0 {
			continue
		}
		id := cellString(row[0])
		if id == "" {
			continue
		}
		ids[id] = i + 1
	}
	return ids, nil
}

// UpsertRows overwrites rows whose id is already in the sheet and appends the rest.
func (s *SheetsService) UpsertRows(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	existing, err := s.ExistingIDs(ctx)
	if err != nil {
		return err
	}

	var updates []*sheets.ValueRange
	var appends [][]string
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if n, ok := existing[row[0]]; ok {
			updates = append(updates, &sheets.ValueRange{
				Range:  s.a1(fmt.Sprintf("A%d", n)),
				Values: toValues([][]string{row}),
			})
			continue
		}
		appends = append(appends, row)
	}

	for start := 0; start < len(updates); start += s.chunkSize {
		end := min(start+s.chunkSize, len(updates))
		req := &sheets.BatchUpdateValuesRequest{
			ValueInputOption: "RAW",
			Data:             updates[start:end],
		}
		if _, err := s.service.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to update existing rows: %w", err)
		}
	}

	s.logger.Debug().Int("updated", len(updates)).Int("appended", len(appends)).Msg("sheet upsert")
	return s.AppendRows(ctx, appends)
}

// ReplaceAll clears the tab and writes header plus rows in chunks.
func (s *SheetsService) ReplaceAll(ctx context.Context, header []string, rows [][]string) error {
	if err := s.EnsureSheet(ctx); err != nil {
		return err
	}

	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, quoteSheetName(s.sheetName), &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to clear sheet: %w", err)
	}

	all := make([][]string, 0, len(rows)+1)
	all = append(all, header)
	all = append(all, rows...)

	for start := 0; start < len(all); start += s.chunkSize {
		end := min(start+s.chunkSize, len(all))
		rng := s.a1(fmt.Sprintf("A%d", start+1))
		_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rng, &sheets.ValueRange{Values: toValues(all[start:end])}).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("failed to write rows %d-%d: %w", start, end, err)
		}
		s.logger.Debug().Int("from", start).Int("to", end).Msg("sheet chunk written")
	}

	return nil
}

func (s *SheetsService) a1(cells string) string {
	return quoteSheetName(s.sheetName) + "!" + cells
}

func quoteSheetName(name string) string {
	for _, r := range name {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return "'" + strings.ReplaceAll(name, "'", "''") + "'"
		}
	}
	return name
}

func cellString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func toValues(rows [][]string) [][]interface{} {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		values[i] = cells
	}
	return values
}
