package photo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clubside/regbot/internal/llmloop"
	"github.com/clubside/regbot/internal/providers"
	"github.com/clubside/regbot/internal/routine"
	"github.com/clubside/regbot/internal/session"
	"github.com/clubside/regbot/internal/tools"
)

type scriptedProvider struct {
	responses []*providers.ChatResponse
	calls     int
}

func (s *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func (s *scriptedProvider) DefaultModel() string { return "test-model" }
func (s *scriptedProvider) Name() string         { return "scripted" }

type fakeProcessor struct{}

func (fakeProcessor) Process(ctx context.Context, tempPath, playerName, team, ageGroup, recordID string) (string, string, error) {
	return "https://bucket.example.com/player_photos/x.jpg", "player_photos/x.jpg", nil
}

func newTestWorker(t *testing.T, registry *tools.Registry, responses ...*providers.ChatResponse) (*Worker, *session.Store, *StatusStore) {
	t.Helper()
	sessions := session.NewStore(40, time.Hour)
	locker := session.NewLocker(50 * time.Millisecond)
	status := NewStatusStore()
	cfg := llmloop.DefaultConfig()
	cfg.Retry = providers.RetryConfig{Attempts: 1, Base: time.Millisecond}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	loop := llmloop.New(&scriptedProvider{responses: responses}, registry, cfg)
	w := NewWorker(sessions, locker, routine.New(), loop, status, t.TempDir(), 1)
	t.Cleanup(w.Close)
	return w, sessions, status
}

func finalReply(content string) *providers.ChatResponse {
	return &providers.ChatResponse{Content: content, FinishReason: "stop"}
}

func TestProcessSyncPublishesStatus(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(tools.NewUploadPhotoTool(fakeProcessor{}))

	w, sessions, _ := newTestWorker(t, registry,
		&providers.ChatResponse{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID: "tc_1", Name: "upload_photo_to_s3",
				Arguments: map[string]interface{}{
					"temp_path": "x.jpg", "player_name": "Seb Martinez",
					"team": "Lions", "age_group": "U9", "record_id": "rec_1",
				},
			}},
		},
		// the model proposes a bogus step; the engine owns the advance
		finalReply(`{"agent_final_response": "Great photo, all done!", "routine_number": 30}`),
	)

	path, err := w.WriteTemp([]byte("fake image bytes"), "kid.jpg")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan Status, 1)
	w.ProcessSync(Job{SessionID: "s1", TempPath: path}, done)
	st := <-done

	if !st.Complete || st.Error != "" {
		t.Fatalf("status = %+v", st)
	}
	if st.Message != "Great photo, all done!" {
		t.Errorf("message = %q", st.Message)
	}

	history, err := sessions.History("s1")
	if err != nil {
		t.Fatal(err)
	}
	var marker, assistant, toolRecord bool
	for _, m := range history {
		if m.Role == "system" && strings.HasPrefix(m.Content, "UPLOADED_FILE_PATH:") {
			marker = true
		}
		if m.Role == "assistant" {
			assistant = true
		}
		if m.Role == "tool" && strings.Contains(m.Content, "upload_photo_to_s3") {
			toolRecord = true
		}
	}
	if !marker {
		t.Error("UPLOADED_FILE_PATH marker missing from history")
	}
	if !assistant {
		t.Error("assistant reply missing from history")
	}
	if !toolRecord {
		t.Error("upload tool record missing from history")
	}

	snap, err := sessions.Snapshot("s1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.LastAgent != session.AgentPhoto {
		t.Errorf("LastAgent = %q, want photo", snap.LastAgent)
	}
	if snap.RoutineNumber != 35 {
		t.Errorf("RoutineNumber = %d, want 35 (engine-advanced, not the model's 30)", snap.RoutineNumber)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("temp file not cleaned up")
	}
}

func TestNoUploadOutcomeLeavesRoutineAlone(t *testing.T) {
	w, sessions, _ := newTestWorker(t, nil,
		finalReply(`{"agent_final_response": "Hmm, I couldn't see a photo.", "routine_number": 35}`),
	)

	path, err := w.WriteTemp([]byte("fake image bytes"), "kid.jpg")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan Status, 1)
	w.ProcessSync(Job{SessionID: "s4", TempPath: path}, done)
	<-done

	// the model never called upload_photo_to_s3, so its claimed step 35
	// is ignored and the session stays where it was
	snap, err := sessions.Snapshot("s4")
	if err != nil {
		t.Fatal(err)
	}
	if snap.RoutineNumber != 0 {
		t.Errorf("RoutineNumber = %d, want unchanged 0", snap.RoutineNumber)
	}
}

func TestSubmitProcessesAsynchronously(t *testing.T) {
	w, _, status := newTestWorker(t, nil, finalReply(`{"agent_final_response": "Processed."}`))

	if !w.Submit(Job{SessionID: "s2", Data: []byte("fake image bytes"), OriginalName: "kid.png"}) {
		t.Fatal("Submit rejected with an idle pool")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := status.Get("s2"); ok && st.Complete {
			if st.Message != "Processed." {
				t.Errorf("message = %q", st.Message)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("async job never completed")
}

func TestWorkerRespectsSessionLock(t *testing.T) {
	w, _, _ := newTestWorker(t, nil, finalReply(`{"agent_final_response": "done"}`))

	release, err := w.Locker.Acquire("s3")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	path := filepath.Join(t.TempDir(), "p.jpg")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	done := make(chan Status, 1)
	w.ProcessSync(Job{SessionID: "s3", TempPath: path}, done)
	st := <-done
	if st.Error != "session_busy" {
		t.Errorf("status = %+v, want session_busy", st)
	}
}
