package execlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"comfybatch/internal/apperrors"
)

// Outcome of one unit of work
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
)

const (
	// TextToImageInput input column value for units without an input image
	TextToImageInput = "N/A (text-to-image)"
	// UnknownOutput output column value when a unit failed before its output path was known
	UnknownOutput = "N/A"

	// TimeFormat timestamp format of the error log
	TimeFormat = "2006-01-02 15:04:05"
)

// ErrorLogHeader header row of the run-wide error log
var ErrorLogHeader = []string{"workflow filename", "error time", "workflow type", "failure stage", "error message"}

// Record execution record of one unit of work
type Record struct {
	Sequence int
	Input    string
	Output   string
	Submit   time.Duration
	Generate time.Duration
	Download time.Duration
	Total    time.Duration
	Outcome  Outcome
	Detail   string
}

// Row formats the record as a CSV row. Failed rows leave the durations empty.
func (r Record) Row() []string {
	row := []string{
		fmt.Sprintf("%04d", r.Sequence),
		r.Input,
		r.Output,
		"", "", "", "",
		string(r.Outcome),
		FlattenDetail(r.Detail),
	}
	if r.Outcome == OutcomeSuccess {
		row[3] = seconds(r.Submit)
		row[4] = seconds(r.Generate)
		row[5] = seconds(r.Download)
		row[6] = seconds(r.Total)
	}
	return row
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.2f", d.Seconds())
}

// FlattenDetail keeps an error message on a single CSV line
func FlattenDetail(detail string) string {
	detail = strings.ReplaceAll(detail, "\r\n", "\n")
	return strings.ReplaceAll(strings.TrimRight(detail, "\n"), "\n", " | ")
}

// ExecutionLog per-workflow, header-less, append-only CSV log
type ExecutionLog struct {
	path string
}

// NewExecutionLog returns the log stored at path; the file is created on first append
func NewExecutionLog(path string) *ExecutionLog {
	return &ExecutionLog{path: path}
}

// Path file backing the log
func (l *ExecutionLog) Path() string {
	return l.path
}

// Append appends one record
func (l *ExecutionLog) Append(r Record) error {
	return appendRow(l.path, r.Row())
}

// ErrorEntry one row of the run-wide error log
type ErrorEntry struct {
	Workflow string
	Time     time.Time
	Type     string
	Stage    string
	Message  string
}

// Row formats the entry as a CSV row
func (e ErrorEntry) Row() []string {
	return []string{e.Workflow, e.Time.Format(TimeFormat), e.Type, e.Stage, FlattenDetail(e.Message)}
}

// ErrorLog run-wide error log with a header row
type ErrorLog struct {
	path string
}

// OpenErrorLog returns the error log at path, writing the header if the file does not exist
func OpenErrorLog(path string) (*ErrorLog, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := appendRow(path, ErrorLogHeader); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, apperrors.New(apperrors.KindIO, "open error log", err)
	}
	return &ErrorLog{path: path}, nil
}

// Path file backing the log
func (l *ErrorLog) Path() string {
	return l.path
}

// Append appends one entry
func (l *ErrorLog) Append(e ErrorEntry) error {
	return appendRow(l.path, e.Row())
}

// appendRow opens path for append, writes one row and closes it again
func appendRow(path string, row []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.New(apperrors.KindIO, "append csv row", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return apperrors.New(apperrors.KindIO, "append csv row", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return apperrors.New(apperrors.KindIO, "append csv row", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return apperrors.New(apperrors.KindIO, "append csv row", err)
	}
	return nil
}

// ReadRows reads every row of a CSV log
func ReadRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.New(apperrors.KindIO, "read csv log", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, apperrors.New(apperrors.KindIO, "read csv log", err)
	}
	return rows, nil
}
