package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// ErrFull is returned by Record once the retention limit is reached.
var ErrFull = errors.New("recorder full")

// Options configures a Recorder.
type Options struct {
	// Stream receives every captured record as NDJSON as it arrives.
	Stream io.Writer
	// Redact names form fields stripped before capture. Replay only reads
	// the honeypot field and the wallet, so secrets such as the CAPTCHA
	// token and contact details need not be kept.
	Redact []string
	// Limit caps retained records. Zero keeps everything.
	Limit int
}

// Recorder captures live submissions so traffic can be replayed against
// other limits later. Safe for concurrent use.
type Recorder struct {
	opts   Options
	redact map[string]struct{}

	mu      sync.Mutex
	records []SubmissionRecord
	dropped int
}

func New(opts Options) *Recorder {
	r := &Recorder{opts: opts, redact: make(map[string]struct{}, len(opts.Redact))}
	for _, f := range opts.Redact {
		r.redact[f] = struct{}{}
	}
	return r
}

// Record captures rec without its redacted fields. Past the limit it
// counts the submission as dropped and returns ErrFull.
func (r *Recorder) Record(rec SubmissionRecord) error {
	rec.Fields = r.strip(rec.Fields)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.Limit > 0 && len(r.records) >= r.opts.Limit {
		r.dropped++
		return ErrFull
	}
	r.records = append(r.records, rec)
	if r.opts.Stream != nil {
		return json.NewEncoder(r.opts.Stream).Encode(rec)
	}
	return nil
}

func (r *Recorder) strip(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if _, ok := r.redact[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// Len returns the number of retained records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Dropped returns how many submissions arrived after the limit was hit.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// ExportJSON writes the records as a JSON array ordered by timestamp.
// Concurrent requests can be captured slightly out of order.
func (r *Recorder) ExportJSON(w io.Writer) error {
	r.mu.Lock()
	records := make([]SubmissionRecord, len(r.records))
	copy(records, r.records)
	r.mu.Unlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// ExportFile writes the records to path with ExportJSON.
func (r *Recorder) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.ExportJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads submission records either as a JSON array or as
// newline-delimited JSON, the format Record streams.
func Load(r io.Reader) ([]SubmissionRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var records []SubmissionRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var records []SubmissionRecord
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec SubmissionRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// LoadFile reads records from path with Load.
func LoadFile(path string) ([]SubmissionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
