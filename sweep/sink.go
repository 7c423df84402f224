package sweep

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

// Sink persists trial results. Implementations must be safe for concurrent
// use and must make each Append durable before returning.
type Sink interface {
	Append(res TrialResult) error
	Close() error
}

// CSV column headers for the results table.
var resultColumns = []string{"c", "b", "s", "v", "t", "r", "aat", "estimated_size_bytes"}

// ResultRow renders the persisted columns of res.
func ResultRow(res TrialResult) []string {
	t := res.Tuple
	return []string{
		strconv.Itoa(t.C),
		strconv.Itoa(t.B),
		strconv.Itoa(t.S),
		strconv.Itoa(t.V),
		t.T.String(),
		t.R.String(),
		strconv.FormatFloat(res.AAT, 'f', -1, 64),
		strconv.FormatUint(res.EstimatedSizeBytes, 10),
	}
}

// CSVSink appends rows to a comma-separated file. The file is opened in append
// mode, so existing rows from earlier sweeps are preserved.
type CSVSink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewCSVSink opens (or creates) path for appending. When header is true and the
// file is empty, a header row is written first.
func NewCSVSink(path string, header bool) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening output table: %w", err)
	}
	s := &CSVSink{file: f, path: path}
	if header {
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("stat output table: %w", err)
		}
		if info.Size() == 0 {
			if err := s.writeRecord(resultColumns); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
	}
	return s, nil
}

// Append writes one row with a single write call followed by fsync, so a
// reader never observes a partial row.
func (s *CSVSink) Append(res TrialResult) error {
	return s.writeRecord(ResultRow(res))
}

func (s *CSVSink) writeRecord(record []string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(record); err != nil {
		return fmt.Errorf("encoding CSV row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encoding CSV row: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("writing %s: sink closed", s.path)
	}
	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", s.path, err)
	}
	return nil
}

// Close closes the underlying file. It is safe to call more than once.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// MultiSink fans every append out to each of its sinks in order.
type MultiSink []Sink

func (m MultiSink) Append(res TrialResult) error {
	for _, s := range m {
		if err := s.Append(res); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadCompleted reads an existing results table and returns the tuples it
// already contains. Header rows and malformed rows are skipped. A missing file
// yields an empty set.
func LoadCompleted(path string) (map[Tuple]bool, error) {
	done := make(map[Tuple]bool)
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return done, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening results table: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, fmt.Errorf("reading results table: %w", err)
		}
		if t, ok := parseTupleColumns(row); ok {
			done[t] = true
		}
	}
	return done, nil
}

func parseTupleColumns(row []string) (Tuple, bool) {
	if len(row) < len(resultColumns) {
		return Tuple{}, false
	}
	var ints [4]int
	for i := range ints {
		n, err := strconv.Atoi(row[i])
		if err != nil {
			return Tuple{}, false
		}
		ints[i] = n
	}
	fp, err := ParseFetchPolicy(row[4])
	if err != nil {
		return Tuple{}, false
	}
	rp, err := ParseReplacementPolicy(row[5])
	if err != nil {
		return Tuple{}, false
	}
	t := Tuple{C: ints[0], B: ints[1], S: ints[2], V: ints[3], T: fp, R: rp}
	return t, t.Valid()
}
