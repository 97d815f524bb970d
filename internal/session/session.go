// Package session owns the in-memory session map: bounded chat history and
// per-session conversational context. It is the sole owner of this state;
// every other component reads and writes a session only through Store.
package session

import (
	"regexp"
	"sync"
	"time"

	"github.com/clubside/regbot/internal/providers"
)

// LastAgent names the agent variant that produced the most recent reply.
type LastAgent string

const (
	AgentNone            LastAgent = ""
	AgentGeneric         LastAgent = "generic"
	AgentNewRegistration LastAgent = "new_registration"
	AgentReRegistration  LastAgent = "re_registration"
	AgentPhoto           LastAgent = "photo"
)

// CodeContext is the parsed registration code, once detected. Immutable
// after it is first set on a session.
type CodeContext struct {
	Series     string
	Team       string
	AgeGroup   string
	Season     string
	IsNew      bool
}

// PendingUpload describes a file awaiting photo-pipeline processing.
type PendingUpload struct {
	TempPath    string
	OriginalName string
	ContentType string
}

// preserved message markers are never evicted by the MAX_HISTORY cap.
const (
	MarkerAgentTransition = "AGENT_TRANSITION"
	MarkerUploadedFile    = "UPLOADED_FILE_PATH"
)

// Entry is one message in a session's history.
type Entry struct {
	Message   providers.Message
	T         time.Time
	Preserved bool // markers and tool-call records survive MAX_HISTORY eviction
}

// Session holds the conversational state for one client-supplied session id.
type Session struct {
	mu sync.Mutex

	ID            string
	history       []Entry
	LastAgent     LastAgent
	RoutineNumber int // 0 means "absent"
	Code          *CodeContext
	Pending       *PendingUpload
	updatedAt     time.Time
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ErrInvalidID is returned by Store.Get/Append when id fails validation.
type ErrInvalidID struct{ ID string }

func (e *ErrInvalidID) Error() string { return "invalid_session_id" }

// ValidID reports whether id satisfies the opaque-ASCII ≤100-char rule.
func ValidID(id string) bool { return idPattern.MatchString(id) }

// DefaultMaxHistory is the default cap on the non-preserved tail of a
// session's history. Config may lower or raise the cap.
const DefaultMaxHistory = 40

// Store owns the in-memory session map.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxHistory  int
	idleTimeout time.Duration
}

// NewStore creates an empty Store. maxHistory and idleTimeout fall back to
// DefaultMaxHistory/24h when zero.
func NewStore(maxHistory int, idleTimeout time.Duration) *Store {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if idleTimeout <= 0 {
		idleTimeout = 24 * time.Hour
	}
	return &Store{
		sessions:    make(map[string]*Session),
		maxHistory:  maxHistory,
		idleTimeout: idleTimeout,
	}
}

// Get returns the session for id, creating it if absent. Returns
// ErrInvalidID for malformed ids.
func (s *Store) Get(id string) (*Session, error) {
	if !ValidID(id) {
		return nil, &ErrInvalidID{ID: id}
	}

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[id]; ok {
		return sess, nil
	}
	sess = &Session{ID: id, updatedAt: time.Now()}
	s.sessions[id] = sess
	return sess, nil
}

// Append adds a message to the session's history and evicts oldest
// non-preserved entries until the non-preserved tail length is within
// the configured MAX_HISTORY.
func (s *Store) Append(id string, msg providers.Message, preserved bool) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.history = append(sess.history, Entry{Message: msg, T: time.Now(), Preserved: preserved})
	sess.updatedAt = time.Now()
	s.evictLocked(sess)
	return nil
}

// evictLocked drops the oldest non-preserved entries until the
// non-preserved tail length is ≤ maxHistory. Must be called with
// sess.mu held.
func (s *Store) evictLocked(sess *Session) {
	nonPreserved := 0
	for _, e := range sess.history {
		if !e.Preserved {
			nonPreserved++
		}
	}
	if nonPreserved <= s.maxHistory {
		return
	}

	toDrop := nonPreserved - s.maxHistory
	filtered := make([]Entry, 0, len(sess.history))
	for _, e := range sess.history {
		if !e.Preserved && toDrop > 0 {
			toDrop--
			continue
		}
		filtered = append(filtered, e)
	}
	sess.history = filtered
}

// History returns the provider-facing message slice for a session.
func (s *Store) History(id string) ([]providers.Message, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]providers.Message, len(sess.history))
	for i, e := range sess.history {
		out[i] = e.Message
	}
	return out, nil
}

// SetContext updates one of the session's context fields. Only one field
// should be non-nil per call.
func (s *Store) SetContext(id string, lastAgent *LastAgent, routineNumber *int, code *CodeContext, pending **PendingUpload) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if lastAgent != nil {
		sess.LastAgent = *lastAgent
	}
	if routineNumber != nil {
		sess.RoutineNumber = *routineNumber
	}
	if code != nil && sess.Code == nil {
		sess.Code = code
	}
	if pending != nil {
		sess.Pending = *pending
	}
	sess.updatedAt = time.Now()
	return nil
}

// Snapshot returns a point-in-time copy of a session's context fields,
// safe to read without holding any lock afterward.
func (s *Store) Snapshot(id string) (*Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	cp := &Session{
		ID:            sess.ID,
		LastAgent:     sess.LastAgent,
		RoutineNumber: sess.RoutineNumber,
		Code:          sess.Code,
		Pending:       sess.Pending,
	}
	return cp, nil
}

// Clear removes all history and context for a session (the /clear endpoint).
func (s *Store) Clear(id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.history = nil
	sess.LastAgent = AgentNone
	sess.RoutineNumber = 0
	sess.Code = nil
	sess.Pending = nil
	return nil
}

// Sweep removes sessions whose most recent message is older than the
// store's idle timeout.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := now.Sub(sess.updatedAt)
		sess.mu.Unlock()
		if idle > s.idleTimeout {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live sessions, for diagnostics/tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
