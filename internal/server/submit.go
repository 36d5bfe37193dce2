package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
	"github.com/SmitUplenchwar2687/bottlegate/internal/recorder"
)

// Form fields of the public submission form.
const (
	FieldName     = "name"
	FieldPhone    = "phone"
	FieldWallet   = "wallet"
	FieldWeightKg = "weight_kg"
	FieldAddress  = "address"
)

type submitResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Degraded bool   `json:"degraded,omitempty"`
}

type rejectResponse struct {
	Error      string           `json:"error"`
	Reason     admission.Reason `json:"reason"`
	Limiter    string           `json:"limiter,omitempty"`
	RetryAfter int64            `json:"retry_after,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	fields, err := s.parseForm(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "submission too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	if v, ok := fields[FieldWeightKg]; ok && v != "" {
		kg, err := strconv.ParseFloat(v, 64)
		if err != nil || kg <= 0 || math.IsInf(kg, 0) || math.IsNaN(kg) {
			writeError(w, http.StatusBadRequest, "weight_kg must be a positive number if provided")
			return
		}
	}

	sub := admission.Submission{
		ID:         RequestIDFrom(r.Context()),
		RemoteAddr: r.RemoteAddr,
		Header:     r.Header,
		Wallet:     strings.TrimSpace(fields[FieldWallet]),
		Fields:     fields,
	}
	now := s.clock.Now()
	if s.recorder != nil {
		if err := s.recorder.Record(recorder.FromSubmission(now, sub, s.cfg.ForwardedHeader)); err != nil && !errors.Is(err, recorder.ErrFull) {
			s.logger.Warn("failed to record submission", "error", err)
		}
	}

	verdict := s.admitter.Submit(r.Context(), sub)
	if !verdict.Accepted() {
		s.writeRejection(w, verdict)
		return
	}

	if s.persister != nil {
		rec := recorder.AcceptedRecord{
			ID:         sub.ID,
			Timestamp:  now,
			Identities: identityStrings(s.admitter.Identify(sub)),
			Degraded:   verdict.Degraded,
			Fields:     persistedFields(fields),
		}
		if err := s.persister.Persist(r.Context(), rec); err != nil {
			s.logger.Error("failed to persist accepted submission", "id", sub.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store submission")
			return
		}
	}

	writeJSON(w, http.StatusOK, submitResponse{ID: sub.ID, Status: "accepted", Degraded: verdict.Degraded})
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFormBytes)
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(s.cfg.MaxFormBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(r.PostForm))
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			fields[k] = vs[0]
		}
	}
	return fields, nil
}

// persistedFields keeps the collection fields and drops the bot-check
// inputs.
func persistedFields(fields map[string]string) map[string]string {
	out := make(map[string]string, 5)
	for _, k := range []string{FieldName, FieldPhone, FieldWallet, FieldWeightKg, FieldAddress} {
		if v, ok := fields[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (s *Server) writeRejection(w http.ResponseWriter, v admission.Verdict) {
	status, msg := statusFor(v.Reason)
	if v.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retrySeconds(v), 10))
	}
	writeJSON(w, status, rejectResponse{
		Error:      msg,
		Reason:     v.Reason,
		Limiter:    v.Limiter,
		RetryAfter: retrySeconds(v),
	})
}

// statusFor maps a rejection reason onto an HTTP status and message.
func statusFor(reason admission.Reason) (int, string) {
	switch reason {
	case admission.ReasonHoneypotTriggered:
		return http.StatusBadRequest, "Invalid submission"
	case admission.ReasonCaptchaFailed:
		return http.StatusBadRequest, "captcha verification failed"
	case admission.ReasonDenylistActive:
		return http.StatusForbidden, "temporarily blocked"
	case admission.ReasonRateLimited:
		return http.StatusTooManyRequests, "rate limit exceeded"
	case admission.ReasonCaptchaUnavailable:
		return http.StatusServiceUnavailable, "captcha verification unavailable"
	default:
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	}
}

// retrySeconds rounds up so clients never retry early.
func retrySeconds(v admission.Verdict) int64 {
	if v.RetryAfter <= 0 {
		return 0
	}
	secs := int64(math.Ceil(v.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

type denylistResponse struct {
	Identity string `json:"identity"`
	Active   bool   `json:"active"`
	Until    string `json:"until,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Level    int    `json:"level,omitempty"`
	// Remaining is in seconds.
	Remaining int64 `json:"remaining,omitempty"`
}

func (s *Server) handleDenylistLookup(w http.ResponseWriter, r *http.Request) {
	id, err := identity.Parse(chi.URLParam(r, "kind"), chi.URLParam(r, "value"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, active, err := s.denylist.IsActive(r.Context(), id)
	if err != nil {
		s.logger.Error("denylist lookup failed", "identity", id.String(), "error", err)
		writeError(w, http.StatusServiceUnavailable, "denylist unavailable")
		return
	}

	resp := denylistResponse{Identity: id.String(), Active: active}
	if active {
		resp.Until = entry.Until.UTC().Format(time.RFC3339)
		resp.Reason = string(entry.Reason)
		resp.Level = entry.Level
		resp.Remaining = int64(math.Ceil(entry.Remaining(s.clock.Now()).Seconds()))
	}
	writeJSON(w, http.StatusOK, resp)
}

func identityStrings(ids []identity.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
