package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/findadoc-tester/internal/id/uuid"
	"github.com/JakeFAU/findadoc-tester/internal/metrics"
	"github.com/JakeFAU/findadoc-tester/internal/progress"
	"github.com/JakeFAU/findadoc-tester/internal/provider"
	"github.com/JakeFAU/findadoc-tester/internal/search"
	"github.com/JakeFAU/findadoc-tester/internal/specialty"
)

const maxBodyBytes = 64 << 10

// runRequest is the body of both run endpoints. JSON, urlencoded and
// multipart forms are accepted.
type runRequest struct {
	Specialty   string `json:"specialty"`
	CustomTerms string `json:"customTerms"`
	ZipCode     string `json:"zipCode"`
	SessionID   string `json:"sessionId"`
}

func (s *Server) listSpecialties(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, specialty.List())
}

func (s *Server) runTest(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRunRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := specialty.Resolve(req.Specialty, req.CustomTerms)
	if err != nil {
		s.rejectSpecialty(w, req, err)
		return
	}
	report, err := s.execute(r.Context(), cfg, req.ZipCode, s.runID(), progress.Discard)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// runTestWithProgress runs the search under a progress session. The id comes
// from the body when supplied, so clients can subscribe before posting;
// otherwise one is allocated.
func (s *Server) runTestWithProgress(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRunRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID, err = s.idGen.NewID()
		if err != nil {
			s.logger.Error("allocate session id failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to allocate session id")
			return
		}
	} else if !uuid.Valid(sessionID) {
		s.logger.Debug("client supplied a non-uuid session id", zap.String("session_id", sessionID))
	}
	w.Header().Set("X-Session-ID", sessionID)

	session, err := s.broker.Open(sessionID, s.runner.TotalSteps())
	if err != nil {
		if errors.Is(err, progress.ErrSessionExists) {
			writeError(w, http.StatusConflict, "session already in progress")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// A panicking runner must still close the session, or listeners hang and
	// the id stays taken.
	defer func() {
		if rec := recover(); rec != nil {
			session.Fail(fmt.Errorf("run aborted: %v", rec))
			panic(rec)
		}
	}()

	cfg, err := specialty.Resolve(req.Specialty, req.CustomTerms)
	if err != nil {
		session.Fail(err)
		s.rejectSpecialty(w, req, err)
		return
	}
	report, err := s.execute(r.Context(), cfg, req.ZipCode, sessionID, session)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// runID names a run that has no progress session. Screenshots and logs are
// keyed by it, so a generator failure only degrades to an anonymous run.
func (s *Server) runID() string {
	id, err := s.idGen.NewID()
	if err != nil {
		s.logger.Warn("allocate run id failed", zap.Error(err))
		return ""
	}
	return id
}

// execute runs the search and builds the report. The runner reports progress
// and closes the session on both outcomes.
func (s *Server) execute(ctx context.Context, cfg specialty.Config, zip, sessionID string, reporter progress.Reporter) (provider.Report, error) {
	result, err := s.runner.Run(ctx, search.Request{
		SessionID: sessionID,
		Specialty: cfg,
		ZipCode:   zip,
	}, reporter)
	if err != nil {
		return provider.Report{}, err
	}
	report := provider.Report{
		Success:     true,
		Specialty:   cfg.Name,
		Description: cfg.Description,
		ZipCode:     zip,
		Timestamp:   s.clock.Now(),
		Results:     result,
		SessionID:   sessionID,
	}
	s.publish(ctx, report)
	return report, nil
}

// publish announces a finished run. Failures are logged only.
func (s *Server) publish(ctx context.Context, report provider.Report) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	msgID, err := s.publisher.Publish(pubCtx, s.topic, report.Summary())
	if err != nil {
		s.logger.Warn("publish run summary failed",
			zap.String("topic", s.topic),
			zap.String("session_id", report.SessionID),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("published run summary", zap.String("topic", s.topic), zap.String("message_id", msgID))
}

func (s *Server) rejectSpecialty(w http.ResponseWriter, req runRequest, err error) {
	metrics.ObserveRun(req.Specialty, metrics.OutcomeInvalidSpecialty, 0)
	s.logger.Info("rejected run request", zap.String("specialty", req.Specialty), zap.Error(err))
	writeError(w, http.StatusBadRequest, "Invalid specialty selected")
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("run failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, "Failed to run test: "+err.Error())
}

// statusFor maps run failures onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, specialty.ErrInvalidSpecialty):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrRequiredFieldNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, search.ErrNavigationExhausted):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeRunRequest(r *http.Request) (runRequest, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return runRequest{}, fmt.Errorf("invalid form body: %w", err)
		}
		return formRequest(r), nil
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return runRequest{}, fmt.Errorf("invalid form body: %w", err)
		}
		return formRequest(r), nil
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return runRequest{}, errors.New("invalid JSON")
	}
	req.ZipCode = strings.TrimSpace(req.ZipCode)
	return req, nil
}

func formRequest(r *http.Request) runRequest {
	return runRequest{
		Specialty:   r.PostForm.Get("specialty"),
		CustomTerms: r.PostForm.Get("customTerms"),
		ZipCode:     strings.TrimSpace(r.PostForm.Get("zipCode")),
		SessionID:   r.PostForm.Get("sessionId"),
	}
}
