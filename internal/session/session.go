// Package session tracks per-workflow conversation history.
//
// Live sessions are kept in a go-cache arena keyed by a workflow key derived
// from the capture context. Every read or append refreshes the entry; an
// entry left idle past the timeout expires and the session is archived.
// Archived sessions are immutable and never handed out by Resolve.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/ironsheep/capture-assistant/internal/capture"
	"github.com/ironsheep/capture-assistant/internal/recognize"
)

var (
	// ErrArchived is returned when modifying an archived session.
	ErrArchived = errors.New("session is archived")
	// ErrNotFound is returned for unknown session IDs.
	ErrNotFound = errors.New("session not found")
)

// Status describes how an exchange's response stream ended.
type Status string

const (
	StatusComplete    Status = "complete"
	StatusCancelled   Status = "cancelled"
	StatusInterrupted Status = "interrupted"
)

// Exchange is one request and its response.
type Exchange struct {
	ID       string              `json:"id"`
	Request  *recognize.Document `json:"-"`
	Prompt   string              `json:"prompt"`
	Response string              `json:"response"`
	// StreamComplete is false only for responses cut off by a stream failure.
	StreamComplete bool      `json:"stream_complete"`
	Status         Status    `json:"status"`
	TemplateID     string    `json:"template_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Session is a snapshot of a conversation.
type Session struct {
	ID             string     `json:"id"`
	Key            string     `json:"key"`
	History        []Exchange `json:"history"`
	ActiveTemplate string     `json:"active_template"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivity   time.Time  `json:"last_activity"`
	Archived       bool       `json:"archived"`
}

// KeyBy selects how captures are grouped into sessions.
type KeyBy string

const (
	// KeyGlobal puts every capture in one session.
	KeyGlobal KeyBy = "global"
	// KeyMode keeps one session per capture mode.
	KeyMode KeyBy = "mode"
	// KeyWindow keeps one session per capture mode and window.
	KeyWindow KeyBy = "window"
)

// Key derives the session key for wctx.
func (k KeyBy) Key(wctx capture.WorkflowContext) string {
	mode := wctx.Mode
	if mode == "" {
		mode = "default"
	}
	switch k {
	case KeyGlobal:
		return "global"
	case KeyWindow:
		if wctx.Window != "" {
			return "window:" + mode + "/" + wctx.Window
		}
	}
	return "mode:" + mode
}

// Options configures a Manager.
type Options struct {
	KeyBy           KeyBy
	IdleTimeout     time.Duration
	SweepInterval   time.Duration
	DefaultTemplate string
	// MaxArchived bounds how many archived sessions are retained.
	MaxArchived int
}

type record struct {
	mu sync.Mutex
	s  Session
}

func (r *record) snapshot() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.s
	s.History = append([]Exchange(nil), r.s.History...)
	return s
}

// Manager owns all sessions.
type Manager struct {
	opts   Options
	logger *zap.Logger
	live   *cache.Cache

	// mu serializes resolve-or-create and guards current.
	mu      sync.Mutex
	current map[string]*record

	byID sync.Map

	archMu   sync.Mutex
	archived []*record
}

// NewManager creates a Manager.
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if opts.KeyBy == "" {
		opts.KeyBy = KeyMode
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.MaxArchived <= 0 {
		opts.MaxArchived = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		opts:    opts,
		logger:  logger.Named("session"),
		live:    cache.New(opts.IdleTimeout, opts.SweepInterval),
		current: make(map[string]*record),
	}
	m.live.OnEvicted(func(_ string, v interface{}) {
		m.archive(v.(*record))
	})
	return m
}

// Resolve returns the live session for wctx, creating one if none exists or
// the previous one went idle.
func (m *Manager) Resolve(wctx capture.WorkflowContext) Session {
	key := m.opts.KeyBy.Key(wctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.live.Get(key); ok {
		rec := v.(*record)
		rec.mu.Lock()
		archived := rec.s.Archived
		if !archived {
			rec.s.LastActivity = time.Now()
		}
		rec.mu.Unlock()
		if !archived {
			m.live.Set(key, rec, cache.DefaultExpiration)
			return rec.snapshot()
		}
	}

	// Expired entries are not evicted until the next sweep.
	if prev := m.current[key]; prev != nil {
		m.archive(prev)
	}

	now := time.Now()
	rec := &record{s: Session{
		ID:             ulid.Make().String(),
		Key:            key,
		ActiveTemplate: m.opts.DefaultTemplate,
		CreatedAt:      now,
		LastActivity:   now,
	}}
	m.current[key] = rec
	m.byID.Store(rec.s.ID, rec)
	m.live.Set(key, rec, cache.DefaultExpiration)

	m.logger.Debug("session created", zap.String("session_id", rec.s.ID), zap.String("key", key))
	return rec.snapshot()
}

// AppendExchange appends ex to the session's history. An empty ID or
// CreatedAt is filled in.
func (m *Manager) AppendExchange(id string, ex Exchange) error {
	rec, err := m.lookup(id)
	if err != nil {
		return err
	}

	if ex.ID == "" {
		ex.ID = ulid.Make().String()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}

	rec.mu.Lock()
	if rec.s.Archived {
		rec.mu.Unlock()
		return ErrArchived
	}
	rec.s.History = append(rec.s.History, ex)
	rec.s.LastActivity = ex.CreatedAt
	key := rec.s.Key
	rec.mu.Unlock()

	m.touch(key, rec)
	return nil
}

// SelectTemplate sets the session's active template.
func (m *Manager) SelectTemplate(id, templateID string) error {
	rec, err := m.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	if rec.s.Archived {
		rec.mu.Unlock()
		return ErrArchived
	}
	rec.s.ActiveTemplate = templateID
	rec.s.LastActivity = time.Now()
	key := rec.s.Key
	rec.mu.Unlock()

	m.touch(key, rec)
	return nil
}

// Reset archives the live session for wctx, if any. The next Resolve starts
// a fresh one.
func (m *Manager) Reset(wctx capture.WorkflowContext) {
	key := m.opts.KeyBy.Key(wctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.current[key]
	delete(m.current, key)
	m.live.Delete(key)
	if rec != nil {
		m.archive(rec)
	}
}

// Get returns a snapshot of the session with id, live or archived.
func (m *Manager) Get(id string) (Session, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return Session{}, err
	}
	return rec.snapshot(), nil
}

// Live returns snapshots of all live sessions.
func (m *Manager) Live() []Session {
	items := m.live.Items()
	out := make([]Session, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(*record).snapshot())
	}
	return out
}

// Archived returns snapshots of retained archived sessions, newest first.
func (m *Manager) Archived() []Session {
	m.archMu.Lock()
	recs := append([]*record(nil), m.archived...)
	m.archMu.Unlock()

	out := make([]Session, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		out = append(out, recs[i].snapshot())
	}
	return out
}

func (m *Manager) lookup(id string) (*record, error) {
	v, ok := m.byID.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*record), nil
}

// touch refreshes the idle timer if rec is still the live session for key.
func (m *Manager) touch(key string, rec *record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current[key] == rec {
		_ = m.live.Replace(key, rec, cache.DefaultExpiration)
	}
}

// archive marks rec archived. It is safe to call more than once and must
// not take m.mu: go-cache calls it from Delete and the janitor.
func (m *Manager) archive(rec *record) {
	rec.mu.Lock()
	if rec.s.Archived {
		rec.mu.Unlock()
		return
	}
	rec.s.Archived = true
	id, exchanges := rec.s.ID, len(rec.s.History)
	rec.mu.Unlock()

	m.archMu.Lock()
	m.archived = append(m.archived, rec)
	if over := len(m.archived) - m.opts.MaxArchived; over > 0 {
		for _, old := range m.archived[:over] {
			m.byID.Delete(old.s.ID)
		}
		m.archived = append([]*record(nil), m.archived[over:]...)
	}
	m.archMu.Unlock()

	m.logger.Debug("session archived", zap.String("session_id", id), zap.Int("exchanges", exchanges))
}
