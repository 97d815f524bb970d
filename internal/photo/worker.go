package photo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clubside/regbot/internal/agentdef"
	"github.com/clubside/regbot/internal/llmloop"
	"github.com/clubside/regbot/internal/providers"
	"github.com/clubside/regbot/internal/routine"
	"github.com/clubside/regbot/internal/session"
)

// stepPhotoUpload is routine step 34, where the parent is asked for a photo.
const stepPhotoUpload = 34

// Job is one queued upload: either already on disk at TempPath (written
// by the caller through WriteTemp) or carrying raw bytes for the worker
// to persist.
type Job struct {
	SessionID   string
	TempPath    string
	OriginalName string
	ContentType string
	Data        []byte
}

// Worker runs the background half of the upload pipeline: it drains
// Jobs from a bounded
// pool, runs one model round-trip per job against the new-registration
// agent's step-34 instructions, and publishes the outcome to a StatusStore.
type Worker struct {
	Sessions *session.Store
	Locker   *session.Locker
	Routine  *routine.Engine
	Loop     *llmloop.Loop
	Status   *StatusStore
	TempDir  string

	jobs chan Job
	wg   sync.WaitGroup
}

// NewWorker starts poolSize goroutines consuming from a bounded job queue
// (4 by default); the goroutines run until Close is called.
func NewWorker(sessions *session.Store, locker *session.Locker, routineEngine *routine.Engine, loop *llmloop.Loop, status *StatusStore, tempDir string, poolSize int) *Worker {
	if poolSize <= 0 {
		poolSize = 4
	}
	w := &Worker{
		Sessions: sessions,
		Locker:   locker,
		Routine:  routineEngine,
		Loop:     loop,
		Status:   status,
		TempDir:  tempDir,
		jobs:     make(chan Job, poolSize*4),
	}
	for i := 0; i < poolSize; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

func (w *Worker) run() {
	defer w.wg.Done()
	for job := range w.jobs {
		w.process(job)
	}
}

// Submit enqueues a job for asynchronous processing. Returns false if the
// queue is full (the caller should surface a 503/backpressure response).
func (w *Worker) Submit(job Job) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		return false
	}
}

// ProcessSync runs a job inline and publishes its Status to done, for the
// synchronous /upload endpoint, which blocks for the reply.
func (w *Worker) ProcessSync(job Job, done chan<- Status) {
	w.process(job)
	status, _ := w.Status.Get(job.SessionID)
	done <- status
}

// WriteTemp persists uploaded bytes to TempDir under a random name, keeping
// the original extension so format detection still works downstream.
func (w *Worker) WriteTemp(data []byte, originalName string) (string, error) {
	ext := filepath.Ext(originalName)
	path := filepath.Join(w.TempDir, uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write temp upload: %w", err)
	}
	return path, nil
}

// process runs the upload pipeline for one job end to end.
func (w *Worker) process(job Job) {
	tempPath := job.TempPath
	if tempPath == "" && job.Data != nil {
		written, err := w.WriteTemp(job.Data, job.OriginalName)
		if err != nil {
			w.Status.Set(job.SessionID, Status{Complete: true, Error: "write_failed"})
			return
		}
		tempPath = written
	}
	defer os.Remove(tempPath)

	release, err := w.Locker.Acquire(job.SessionID)
	if err != nil {
		w.Status.Set(job.SessionID, Status{Complete: true, Error: "session_busy"})
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	marker := fmt.Sprintf("UPLOADED_FILE_PATH:%s", tempPath)
	_ = w.Sessions.Append(job.SessionID, providers.Message{Role: "system", Content: marker}, true)

	stepText := w.Routine.InstructionText(stepPhotoUpload)
	variant, ok := agentdef.Get(agentdef.NewRegistration)
	if !ok {
		w.Status.Set(job.SessionID, Status{Complete: true, Error: "agent_unresolved"})
		return
	}
	instructions, allowedTools := agentdef.Resolve(variant, stepText)

	history, err := w.Sessions.History(job.SessionID)
	if err != nil {
		w.Status.Set(job.SessionID, Status{Complete: true, Error: "session_unavailable"})
		return
	}
	if snapshot, err := json.Marshal(historySnapshot(history)); err == nil {
		instructions += fmt.Sprintf("\nWhen you call update_photo_link_to_db, set snapshot to exactly this JSON: %s", snapshot)
	}

	appendTool := func(msg providers.Message) {
		_ = w.Sessions.Append(job.SessionID, msg, true)
	}

	reply, err := w.Loop.Run(ctx, instructions, history, allowedTools, appendTool)
	if err != nil {
		slog.Error("photo worker round-trip failed", "session", job.SessionID, "err", err)
		w.Status.Set(job.SessionID, Status{Complete: true, Error: "upload_failed"})
		return
	}

	_ = w.Sessions.Append(job.SessionID, providers.Message{Role: "assistant", Content: reply.AgentFinalResponse}, false)
	agent := session.AgentPhoto

	// The engine decides the step, not the model: only a successful
	// upload_photo_to_s3 call completes step 34. Any failure leaves the
	// session there so the parent can retry.
	var routineNumber *int
	for _, o := range reply.ToolOutcomes {
		if o.Name == "upload_photo_to_s3" && !o.Result.IsError {
			n := w.Routine.OnValid(stepPhotoUpload, routine.Context{})
			routineNumber = &n
			break
		}
	}
	_ = w.Sessions.SetContext(job.SessionID, &agent, routineNumber, nil, nil)

	w.Status.Set(job.SessionID, Status{Complete: true, Message: reply.AgentFinalResponse})
}

// historySnapshot renders the permanent {role, content} record
// written to the record table at step 34.
func historySnapshot(history []providers.Message) []map[string]string {
	out := make([]map[string]string, 0, len(history))
	for _, m := range history {
		out = append(out, map[string]string{"role": m.Role, "content": m.Content})
	}
	return out
}

// Close waits for in-flight jobs to drain after the queue is closed.
func (w *Worker) Close() {
	close(w.jobs)
	w.wg.Wait()
}
