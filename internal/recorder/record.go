package recorder

import (
	"net/http"
	"time"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
)

// SubmissionRecord is one captured public submission, enough to run it
// through a pipeline again.
type SubmissionRecord struct {
	Timestamp  time.Time         `json:"timestamp"`
	RemoteAddr string            `json:"remote_addr"`
	Wallet     string            `json:"wallet,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	// Forwarded carries the forwarding header chain when one was present.
	Forwarded string `json:"forwarded,omitempty"`
}

// FromSubmission captures s at t. forwardedHeader names the header whose
// value is kept.
func FromSubmission(t time.Time, s admission.Submission, forwardedHeader string) SubmissionRecord {
	rec := SubmissionRecord{
		Timestamp:  t,
		RemoteAddr: s.RemoteAddr,
		Wallet:     s.Wallet,
	}
	if len(s.Fields) > 0 {
		rec.Fields = make(map[string]string, len(s.Fields))
		for k, v := range s.Fields {
			rec.Fields[k] = v
		}
	}
	if s.Header != nil && forwardedHeader != "" {
		rec.Forwarded = s.Header.Get(forwardedHeader)
	}
	return rec
}

// Submission rebuilds the pipeline input.
func (r SubmissionRecord) Submission(forwardedHeader string) admission.Submission {
	s := admission.Submission{
		RemoteAddr: r.RemoteAddr,
		Wallet:     r.Wallet,
		Fields:     make(map[string]string, len(r.Fields)),
	}
	for k, v := range r.Fields {
		s.Fields[k] = v
	}
	if r.Forwarded != "" && forwardedHeader != "" {
		s.Header = http.Header{}
		s.Header.Set(forwardedHeader, r.Forwarded)
	}
	return s
}

// AcceptedRecord is what the accepted-submission sink stores.
type AcceptedRecord struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Identities []string          `json:"identities"`
	Degraded   bool              `json:"degraded,omitempty"`
	Fields     map[string]string `json:"fields"`
}
