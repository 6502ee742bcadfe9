// Package session keeps per-session conversation memory in a bounded LRU with
// idle expiry. Turns within one session are serialized by a per-session lock.
package session

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	DefaultMaxSessions = 1000
	DefaultTTL         = 24 * time.Hour
	DefaultMaxTurns    = 50
	DefaultID          = "default"
)

var activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "docqa",
	Subsystem: "sessions",
	Name:      "active",
	Help:      "Sessions currently held in memory.",
})

// ToolCall records one tool invocation made while answering a turn.
type ToolCall struct {
	Tool   string `json:"tool"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Turn is one question and its outcome. Answer is empty when the turn ended
// in a clarification request.
type Turn struct {
	Question      string     `json:"question"`
	Answer        string     `json:"answer"`
	Clarification string     `json:"clarification,omitempty"`
	ToolCalls     []ToolCall `json:"tool_calls,omitempty"`
	At            time.Time  `json:"at"`
}

// Session is the memory of one conversation.
type Session struct {
	id    string
	store *Store

	// turn serializes whole question/answer cycles.
	turn sync.Mutex

	mu    sync.RWMutex
	turns []Turn
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Turns returns a copy of the history, oldest first.
func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Append adds a turn, drops the oldest turns beyond the store's limit, and
// refreshes the session's idle timer.
func (s *Session) Append(t Turn) {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}

	s.mu.Lock()
	s.turns = append(s.turns, t)
	if limit := s.store.maxTurns; limit > 0 && len(s.turns) > limit {
		s.turns = append([]Turn(nil), s.turns[len(s.turns)-limit:]...)
	}
	s.mu.Unlock()

	s.store.touch(s)
}

// Config bounds a Store.
type Config struct {
	MaxSessions int
	TTL         time.Duration
	MaxTurns    int
}

// Store holds sessions keyed by id.
type Store struct {
	mu  sync.Mutex // guards get-or-create and inflight
	lru *expirable.LRU[string, *Session]
	// inflight pins sessions with an acquired or waiting turn, so an LRU
	// eviction cannot split one id across two Session values.
	inflight map[string]*pinned
	maxTurns int
	logger   *zap.Logger
}

type pinned struct {
	sess *Session
	refs int
}

// NewStore creates a store. Zero config values take the defaults.
func NewStore(cfg Config, logger *zap.Logger) *Store {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		inflight: make(map[string]*pinned),
		maxTurns: cfg.MaxTurns,
		logger:   logger,
	}
	s.lru = expirable.NewLRU[string, *Session](cfg.MaxSessions, s.onEvict, cfg.TTL)
	return s
}

func (s *Store) onEvict(id string, _ *Session) {
	s.logger.Debug("session evicted", zap.String("session_id", id))
	activeSessions.Dec()
}

// Acquire returns the session for id, creating it if needed, and holds its
// turn lock until release is called. Concurrent turns on the same id run
// one after another; different ids do not block each other. The session
// stays pinned until release, even if the LRU evicts it meanwhile.
func (s *Store) Acquire(id string) (*Session, func()) {
	s.mu.Lock()
	var sess *Session
	if p, ok := s.inflight[id]; ok {
		p.refs++
		sess = p.sess
		if cur, ok := s.lru.Get(id); !ok || cur != sess {
			s.add(id, sess)
		}
	} else {
		var found bool
		sess, found = s.lru.Get(id)
		if !found {
			sess = &Session{id: id, store: s}
			s.add(id, sess)
			s.logger.Debug("session created", zap.String("session_id", id))
		}
		s.inflight[id] = &pinned{sess: sess, refs: 1}
	}
	s.mu.Unlock()

	sess.turn.Lock()
	var once sync.Once
	return sess, func() {
		once.Do(func() {
			sess.turn.Unlock()
			s.unpin(id)
		})
	}
}

func (s *Store) unpin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.inflight[id]; ok {
		p.refs--
		if p.refs <= 0 {
			delete(s.inflight, id)
		}
	}
}

// Get returns an existing session without creating one or refreshing its TTL.
func (s *Store) Get(id string) (*Session, bool) {
	return s.lru.Peek(id)
}

// Len returns the number of sessions held.
func (s *Store) Len() int {
	return s.lru.Len()
}

// touch renews the TTL of sess. A session that was evicted while a turn was
// in flight is put back unless a newer session took its id.
func (s *Store) touch(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.lru.Peek(sess.id)
	if ok && cur != sess {
		return
	}
	s.add(sess.id, sess)
}

// add inserts or refreshes an entry. Callers hold s.mu.
func (s *Store) add(id string, sess *Session) {
	if !s.lru.Contains(id) {
		activeSessions.Inc()
	}
	s.lru.Add(id, sess)
}
