package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"ticketsync/internal/models"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"
)

// ErrInvalidRow marks a dataset row that cannot be keyed.
var ErrInvalidRow = errors.New("store: invalid row")

// Store is the canonical, de-duplicated ticket dataset backed by one CSV file.
type Store struct {
	mu     sync.Mutex
	path   string
	rows   map[string][]string
	exists bool
	logger *zerolog.Logger
}

// Open loads the dataset at path. A missing file yields an empty store.
func Open(path string, logger *zerolog.Logger) (*Store, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &Store{
		path:   path,
		rows:   make(map[string][]string),
		logger: logger,
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	if err := s.load(f); err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", path, err)
	}
	s.exists = true

	logger.Debug().Str("path", path).Int("rows", len(s.rows)).Msg("dataset loaded")
	return s, nil
}

func (s *Store) load(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header := true
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line++
		if header {
			header = false
			continue
		}

		row, err := normalizeRow(record)
		if err != nil {
			s.logger.Warn().Err(err).Int("line", line).Msg("skipping dataset row")
			continue
		}
		s.rows[row[0]] = row
	}
}

// normalizeRow pads or trims a record to the canonical width.
func normalizeRow(record []string) ([]string, error) {
	if len(record) == 0 || record[0] == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidRow)
	}
	row := make([]string, len(models.CanonicalHeader))
	copy(row, record)
	return row, nil
}

// Path is the location of the dataset file.
func (s *Store) Path() string {
	return s.path
}

// Len is the number of rows in the dataset.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// KnownIDs returns the numeric ids present after the last successful merge.
func (s *Store) KnownIDs() map[int64]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[int64]struct{}, len(s.rows))
	for key := range s.rows {
		if id, err := strconv.ParseInt(key, 10, 64); err == nil {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// Rows returns a sorted copy of the dataset without the header.
func (s *Store) Rows() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortRows(s.rows)
}

// Merge overwrites rows by id and rewrites the whole file atomically.
// An empty batch rewrites an existing file and never creates a new one.
func (s *Store) Merge(ctx context.Context, tickets []models.Ticket) (string, error) {
	rows := make([][]string, 0, len(tickets))
	for i := range tickets {
		rows = append(rows, tickets[i].Row())
	}
	return s.MergeRows(ctx, rows)
}

// MergeRows is Merge for already serialized rows.
func (s *Store) MergeRows(ctx context.Context, rows [][]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(rows) == 0 && !s.exists {
		return s.path, nil
	}

	next := make(map[string][]string, len(s.rows)+len(rows))
	for k, v := range s.rows {
		next[k] = v
	}
	for _, record := range rows {
		row, err := normalizeRow(record)
		if err != nil {
			return "", err
		}
		next[row[0]] = row
	}

	data, err := encode(sortRows(next))
	if err != nil {
		return "", fmt.Errorf("encode dataset: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create dataset dir: %w", err)
		}
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write dataset: %w", err)
	}

	s.rows = next
	s.exists = true

	s.logger.Debug().
		Str("path", s.path).
		Int("merged", len(rows)).
		Int("total", len(next)).
		Msg("dataset merged")

	return s.path, nil
}

func encode(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(models.CanonicalHeader); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sortRows orders numeric ids ascending, then non-numeric ids in string order.
func sortRows(rows map[string][]string) [][]string {
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessKey(keys[i], keys[j])
	})

	out := make([][]string, 0, len(keys))
	for _, k := range keys {
		row := make([]string, len(rows[k]))
		copy(row, rows[k])
		out = append(out, row)
	}
	return out
}

func lessKey(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
