package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ticketsync/internal/models"
)

// DetailLog appends the full records of one run (tags, custom fields,
// description) to a timestamped CSV. The canonical dataset keeps only its
// fixed columns, so this is the only place those fields are exported.
type DetailLog struct {
	path string

	mu      sync.Mutex
	created bool
	rows    int
}

// NewDetailLog names the file dir/tickets_<kind>_<YYYYMMDD_HHMMSS>.csv.
// Nothing is written before the first Append.
func NewDetailLog(dir, kind string, started time.Time) *DetailLog {
	name := fmt.Sprintf("tickets_%s_%s.csv", kind, started.UTC().Format("20060102_150405"))
	return &DetailLog{path: filepath.Join(dir, name)}
}

func (d *DetailLog) Path() string {
	return d.path
}

// Rows is the number of records written so far.
func (d *DetailLog) Rows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rows
}

// Append writes tickets in DetailHeader order, creating the file with its header on first use.
func (d *DetailLog) Append(ctx context.Context, tickets []models.Ticket) (err error) {
	if len(tickets) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	flags := os.O_WRONLY | os.O_APPEND
	if !d.created {
		if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
			return fmt.Errorf("create detail dir: %w", err)
		}
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(d.path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open detail file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close detail file: %w", cerr)
		}
	}()

	w := csv.NewWriter(f)
	if !d.created {
		if err := w.Write(models.DetailHeader); err != nil {
			return fmt.Errorf("write detail header: %w", err)
		}
	}
	for i := range tickets {
		if err := w.Write(tickets[i].DetailRow()); err != nil {
			return fmt.Errorf("write detail row %d: %w", tickets[i].ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush detail file: %w", err)
	}

	d.created = true
	d.rows += len(tickets)
	return nil
}
