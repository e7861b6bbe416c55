package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ticketsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func ticket(id int64, status string) models.Ticket {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return models.Ticket{ID: id, Status: status, Subject: "subject", CreatedAt: ts, UpdatedAt: ts}
}

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "exports", "tickets_all.csv"), nil)
	require.NoError(t, err)
	return s
}

func ids(rows [][]string) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r[0])
	}
	return out
}

func TestMergeOrdersAndWritesHeader(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	path, err := s.Merge(ctx, []models.Ticket{ticket(10, "open"), ticket(2, "new"), ticket(33, "solved")})
	require.NoError(t, err)
	assert.Equal(t, s.Path(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, strings.Join(models.CanonicalHeader, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2,new,"))
	assert.True(t, strings.HasPrefix(lines[2], "10,open,"))
	assert.True(t, strings.HasPrefix(lines[3], "33,solved,"))
	assert.Equal(t, 3, s.Len())
}

func TestMergeIsIdempotent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	batch := []models.Ticket{ticket(5, "open"), ticket(1, "new")}

	path, err := s.Merge(ctx, batch)
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = s.Merge(ctx, batch)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMergeLastWriteWins(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.Merge(ctx, []models.Ticket{ticket(7, "open")})
	require.NoError(t, err)
	_, err = s.Merge(ctx, []models.Ticket{ticket(7, "closed"), ticket(7, "solved")})
	require.NoError(t, err)

	rows := s.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "solved", rows[0][1])
}

func TestMergeNonNumericKeysSortLast(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	row := func(id string) []string {
		r := make([]string, len(models.CanonicalHeader))
		r[0] = id
		return r
	}
	_, err := s.MergeRows(ctx, [][]string{row("b-2"), row("100"), row("a-1"), row("9")})
	require.NoError(t, err)

	assert.Equal(t, []string{"9", "100", "a-1", "b-2"}, ids(s.Rows()))

	known := s.KnownIDs()
	assert.Len(t, known, 2)
	assert.Contains(t, known, int64(9))
	assert.Contains(t, known, int64(100))
}

func TestMergeRejectsRowWithoutID(t *testing.T) {
	s := openTemp(t)
	_, err := s.MergeRows(context.Background(), [][]string{{""}})
	assert.ErrorIs(t, err, ErrInvalidRow)
	assert.Equal(t, 0, s.Len())
}

func TestEmptyMerge(t *testing.T) {
	t.Run("NoFileIsNotCreated", func(t *testing.T) {
		s := openTemp(t)
		path, err := s.Merge(context.Background(), nil)
		require.NoError(t, err)
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("ExistingFileIsSorted", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tickets.csv")
		unsorted := strings.Join(models.CanonicalHeader, ",") + "\n" +
			"20,open\n" +
			"3,new,,,,,,,,,,,,,1\n"
		require.NoError(t, os.WriteFile(path, []byte(unsorted), 0o644))

		s, err := Open(path, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, s.Len())

		_, err = s.Merge(context.Background(), nil)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[1], "3,new"))
		assert.True(t, strings.HasPrefix(lines[2], "20,open"))
		// short rows are padded to the canonical width
		assert.Equal(t, len(models.CanonicalHeader)-1, strings.Count(lines[2], ","))
	})
}

func TestOpenSkipsRowsWithoutID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.csv")
	content := strings.Join(models.CanonicalHeader, ",") + "\n,orphan\n4,open\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, ids(s.Rows()))
}

func TestMergeHonoursContext(t *testing.T) {
	s := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Merge(ctx, []models.Ticket{ticket(1, "open")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMergeQuotesOnDemand(t *testing.T) {
	s := openTemp(t)
	tk := ticket(1, "open")
	tk.Subject = `Printer, "again"`

	path, err := s.Merge(context.Background(), []models.Ticket{tk})
	require.NoError(t, err)

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	rows := reopened.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, `Printer, "again"`, rows[0][10])
}

func TestExportXLSX(t *testing.T) {
	s := openTemp(t)
	_, err := s.Merge(context.Background(), []models.Ticket{ticket(2, "open"), ticket(1, "new")})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "snap", "tickets.xlsx")
	require.NoError(t, s.ExportXLSX(out))

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "2", rows[2][0])
}
