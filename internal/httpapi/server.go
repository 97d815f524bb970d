// Package httpapi implements the public HTTP surface: a plain
// net/http.ServeMux wiring the dispatcher, photo pipeline, webhook
// processor, and session store to the handful of JSON/multipart
// endpoints the static frontend and the payment provider call.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/clubside/regbot/internal/adapters"
	"github.com/clubside/regbot/internal/config"
	"github.com/clubside/regbot/internal/dispatch"
	"github.com/clubside/regbot/internal/photo"
	"github.com/clubside/regbot/internal/record"
	"github.com/clubside/regbot/internal/session"
	"github.com/clubside/regbot/internal/webhook"
)

// Server wires every public HTTP endpoint to the orchestration
// packages underneath it.
type Server struct {
	Config     *config.Config
	Sessions   *session.Store
	Dispatcher *dispatch.Dispatcher
	Photo      *photo.Pipeline
	Worker     *photo.Worker
	Status     *photo.StatusStore
	Webhook    *webhook.Processor
	Records    record.Store
	Payment    *adapters.PaymentProvider
	Adapters   []adapters.Adapter

	mu          sync.RWMutex
	agentMode   string
	httpServer  *http.Server
	mux         *http.ServeMux
}

func NewServer(cfg *config.Config, sessions *session.Store, d *dispatch.Dispatcher, p *photo.Pipeline, w *photo.Worker, status *photo.StatusStore, wh *webhook.Processor, records record.Store, payment *adapters.PaymentProvider, adapterList []adapters.Adapter) *Server {
	return &Server{
		Config:     cfg,
		Sessions:   sessions,
		Dispatcher: d,
		Photo:      p,
		Worker:     w,
		Status:     status,
		Webhook:    wh,
		Records:    records,
		Payment:    payment,
		Adapters:   adapterList,
		agentMode:  cfg.DefaultAgentMode,
	}
}

// BuildMux registers every route exactly once and caches the mux.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /upload-async", s.handleUploadAsync)
	mux.HandleFunc("GET /upload-status/{session_id}", s.handleUploadStatus)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("GET /agent/status", s.handleAgentStatus)
	mux.HandleFunc("POST /agent/mode", s.handleAgentMode)
	mux.HandleFunc("POST /webhooks/payment-provider", s.handleWebhook)
	mux.HandleFunc("GET /reg_setup/{billing_request_id}", s.handleRegSetup)

	s.mux = mux
	return mux
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully with a 5s drain.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.Config.Gateway.Host, s.Config.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("httpapi starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi server: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}

// --- GET /health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	adapterHealth := make(map[string]adapters.HealthReport, len(s.Adapters))
	overall := true
	for _, a := range s.Adapters {
		report := adapters.Probe(ctx, a)
		adapterHealth[a.Name()] = report
		if !report.Up {
			overall = false
		}
	}

	status := "ok"
	if !overall {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"adapter_health": adapterHealth,
		"config_hash":    s.Config.Hash(),
	})
}

// --- POST /chat ---

type chatRequest struct {
	UserMessage   string  `json:"user_message"`
	SessionID     string  `json:"session_id,omitempty"`
	RoutineNumber *int    `json:"routine_number,omitempty"`
	LastAgent     *string `json:"last_agent,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "could not parse request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "session_id is required")
		return
	}
	if !session.ValidID(req.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session id must be opaque ASCII, <=100 chars")
		return
	}

	var lastAgent session.LastAgent
	if req.LastAgent != nil {
		lastAgent = session.LastAgent(*req.LastAgent)
	}

	resp, err := s.Dispatcher.Handle(r.Context(), dispatch.Request{
		SessionID:     req.SessionID,
		UserMessage:   req.UserMessage,
		HintRoutine:   req.RoutineNumber,
		HintLastAgent: lastAgent,
	})
	if err != nil {
		if err == session.ErrSessionBusy {
			writeError(w, http.StatusConflict, "session_busy", "a turn is already in flight for this session")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "could not process this turn")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"response":       resp.ReplyText,
		"last_agent":     resp.LastAgent,
		"routine_number": resp.RoutineNumber,
	})
}

// --- multipart upload handling shared by /upload and /upload-async ---

var allowedPhotoTypes = map[string]bool{
	"image/jpeg": true, "image/png": true, "image/webp": true, "image/heic": true, "image/heif": true,
}

func (s *Server) readUpload(r *http.Request) (sessionID string, data []byte, filename, contentType string, err error) {
	if err = r.ParseMultipartForm(s.Config.Photo.MaxBytes); err != nil {
		return "", nil, "", "", fmt.Errorf("bad_request: %w", err)
	}
	sessionID = r.FormValue("session_id")
	if sessionID == "" || !session.ValidID(sessionID) {
		return "", nil, "", "", fmt.Errorf("bad_request: missing or invalid session_id")
	}

	file, header, ferr := r.FormFile("photo")
	if ferr != nil {
		return "", nil, "", "", fmt.Errorf("bad_request: %w", ferr)
	}
	defer file.Close()

	contentType = header.Header.Get("Content-Type")
	if !allowedPhotoTypes[contentType] {
		return "", nil, "", "", fmt.Errorf("unsupported_format: %s", contentType)
	}
	if header.Size > s.Config.Photo.MaxBytes {
		return "", nil, "", "", fmt.Errorf("too_large: %d bytes exceeds the limit", header.Size)
	}

	data, err = io.ReadAll(io.LimitReader(file, s.Config.Photo.MaxBytes+1))
	if err != nil {
		return "", nil, "", "", fmt.Errorf("bad_request: %w", err)
	}
	if int64(len(data)) > s.Config.Photo.MaxBytes {
		return "", nil, "", "", fmt.Errorf("too_large: upload exceeds the limit")
	}

	return sessionID, data, header.Filename, contentType, nil
}

// --- POST /upload (synchronous) ---

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID, data, filename, _, err := s.readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	tempPath, err := s.Worker.WriteTemp(data, filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not stage the upload")
		return
	}

	job := photo.Job{SessionID: sessionID, TempPath: tempPath}
	done := make(chan photo.Status, 1)
	s.Worker.ProcessSync(job, done)
	result := <-done

	if result.Error != "" {
		writeError(w, http.StatusBadGateway, "upload_failed", result.Error)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"response": result.Message})
}

// --- POST /upload-async ---

func (s *Server) handleUploadAsync(w http.ResponseWriter, r *http.Request) {
	sessionID, data, filename, contentType, err := s.readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	s.Status.Set(sessionID, photo.Status{Complete: false})

	accepted := s.Worker.Submit(photo.Job{SessionID: sessionID, Data: data, OriginalName: filename, ContentType: contentType})
	if !accepted {
		writeError(w, http.StatusServiceUnavailable, "upload_in_progress", "the photo worker pool is saturated, try again shortly")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"processing": true,
		"response":   "Your photo is being processed, we'll let you know shortly.",
	})
}

// --- GET /upload-status/{session_id} ---

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	st, ok := s.Status.Get(sessionID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"complete": false, "message": ""})
		return
	}
	body := map[string]interface{}{"complete": st.Complete, "message": st.Message}
	if st.Error != "" {
		body["error"] = st.Error
	}
	writeJSON(w, http.StatusOK, body)
}

// --- POST /clear ---

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "session_id is required")
		return
	}
	if err := s.Sessions.Clear(req.SessionID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// --- GET /agent/status, POST /agent/mode ---

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	mode := s.agentMode
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"default_agent_mode": mode,
		"use_async_photo":    s.Config.AsyncPhoto(),
	})
}

func (s *Server) handleAgentMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "mode is required")
		return
	}
	s.mu.Lock()
	s.agentMode = req.Mode
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"default_agent_mode": req.Mode})
}

// --- POST /webhooks/payment-provider ---

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 5<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "could not read request body")
		return
	}

	signature := r.Header.Get("Webhook-Signature")
	if err := s.Webhook.VerifySignature(body, signature); err != nil {
		writeError(w, http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
		return
	}

	events, err := webhook.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	results := s.Webhook.Process(r.Context(), events)
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": results})
}

// --- GET /reg_setup/{billing_request_id} ---

func (s *Server) handleRegSetup(w http.ResponseWriter, r *http.Request) {
	billingRequestID := r.PathValue("billing_request_id")
	if billingRequestID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "billing_request_id is required")
		return
	}

	paymentURL, err := s.Payment.CreateSignupLink(r.Context(), billingRequestID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "provider_error", "could not generate a payment link")
		return
	}

	http.Redirect(w, r, paymentURL, http.StatusFound)
}
