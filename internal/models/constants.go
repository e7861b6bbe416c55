package models

import "time"

const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateDone    = "done"
	StateError   = "error"
)

const (
	KindFull        = "full"
	KindIncremental = "incremental"
)

const (
	TargetFile  = "file"
	TargetSheet = "gsheet"
)

const (
	// MaxPageSize is the largest page the ticketing API accepts.
	MaxPageSize = 100

	// DescriptionLimit bounds the stored description length (runes).
	DescriptionLimit = 500

	// FileBatchSize is the flush threshold for the flat-file target.
	FileBatchSize = 500

	// SheetBatchSize is the flush threshold for the spreadsheet target.
	SheetBatchSize = 100

	// ProgressEvery controls how often a running import reports its count.
	ProgressEvery = 500

	// GapProgressEvery controls progress reporting inside a gap scan.
	GapProgressEvery = 100

	// DefaultGapCeiling caps the number of ids a single gap scan will try.
	DefaultGapCeiling = 2000

	// DefaultGapDelay is the pause between two single-ticket fetches.
	DefaultGapDelay = 50 * time.Millisecond

	// DefaultLookback is used by incremental imports when nothing else is configured.
	DefaultLookback = 24 * time.Hour

	// SheetChunkSize is the number of rows written per Sheets API call.
	SheetChunkSize = 1000
)

// CanonicalDateLayout is used for created/updated columns of the dataset.
const CanonicalDateLayout = "2006-01-02 15:04:05"
