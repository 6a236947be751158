// Package session manages review sessions: archived run logs opened for
// plotting and analysis. Each session loads a run's samples into a
// DuckDB-backed store so range queries don't re-read the CSV, and ages out
// when no longer touched.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iv-workbench/backend/internal/models"
	"github.com/iv-workbench/backend/internal/persist"
	"github.com/iv-workbench/backend/internal/runstore"
	"github.com/iv-workbench/backend/internal/storage"
)

// MaxSessions limits concurrent review sessions to bound memory and open
// database files.
const MaxSessions = 10

// SessionMaxAge is how long to keep a session before cleanup.
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow is how long a touched session is protected from
// cleanup.
const SessionKeepAliveWindow = 5 * time.Minute

// ReviewSession is the metadata of one opened run.
type ReviewSession struct {
	ID        string         `json:"id"`
	Filename  string         `json:"filename"`
	Kind      models.RunKind `json:"kind"`
	Samples   int            `json:"samples"`
	UsedCache bool           `json:"usedCache"`
	Truncated bool           `json:"truncated"`
	OpenedAt  time.Time      `json:"openedAt"`
}

type sessionState struct {
	session      ReviewSession
	store        *runstore.RunStore
	lastAccessed time.Time
}

// Manager opens and caches review sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	archive  *storage.Archive
	tempDir  string
}

// NewManager creates a review-session manager over the given archive.
func NewManager(archive *storage.Archive, tempDir string) *Manager {
	return &Manager{
		sessions: make(map[string]*sessionState),
		archive:  archive,
		tempDir:  tempDir,
	}
}

// Open loads an archived run into a new session. The primary log is read
// directly; when it is truncated or unreadable the cache copy is consulted
// and the longer valid prefix wins.
func (m *Manager) Open(filename string) (*ReviewSession, error) {
	m.cleanupOldSessionsIfNeeded()

	path, err := m.archive.Path(filename)
	if err != nil {
		return nil, err
	}

	usedCache := false
	truncated := false
	var kind models.RunKind
	var samples []models.Sample

	// When the cache copy exists the two logs are reconciled and the longer
	// valid prefix wins; otherwise the primary stands alone.
	if cachePath, cacheErr := m.archive.CachePath(storage.CacheNameFor(filename)); cacheErr == nil {
		recovered, err := persist.Recover(path, cachePath)
		if err != nil {
			return nil, err
		}
		kind = recovered.Kind
		samples = recovered.Samples
		usedCache = recovered.UsedCache
	} else {
		contents, err := persist.ReadLog(path)
		if err != nil {
			return nil, err
		}
		kind = contents.Kind
		samples = contents.Samples
		truncated = contents.Truncated
	}

	sessionID := uuid.New().String()
	store, err := runstore.Ingest(m.tempDir, sessionID, kind, samples)
	if err != nil {
		return nil, fmt.Errorf("failed to create session storage: %w", err)
	}

	state := &sessionState{
		session: ReviewSession{
			ID:        sessionID,
			Filename:  filename,
			Kind:      kind,
			Samples:   len(samples),
			UsedCache: usedCache,
			Truncated: truncated,
			OpenedAt:  time.Now(),
		},
		store:        store,
		lastAccessed: time.Now(),
	}

	m.mu.Lock()
	m.sessions[sessionID] = state
	m.mu.Unlock()

	fmt.Printf("[Session %s] opened %s: %d samples (cache=%v truncated=%v)\n",
		sessionID[:8], filename, len(samples), usedCache, truncated)
	return &state.session, nil
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*ReviewSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	s := state.session
	return &s, true
}

// Touch updates the last-accessed timestamp so an active session is not
// cleaned up.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.lastAccessed = time.Now()
	return true
}

// Samples returns a page of the session's samples in acquisition order.
func (m *Manager) Samples(ctx context.Context, id string, offset, limit int) ([]models.Sample, int, bool) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, 0, false
	}

	total := state.store.Len()
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []models.Sample{}, total, true
	}
	if limit <= 0 || offset+limit > total {
		limit = total - offset
	}

	samples, err := state.store.Samples(ctx, offset, limit)
	if err != nil {
		fmt.Printf("[Session %s] sample query error: %v\n", id[:8], err)
		return nil, 0, false
	}
	return samples, total, true
}

// All returns every sample of a session, for analysis endpoints.
func (m *Manager) All(ctx context.Context, id string) ([]models.Sample, bool) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	samples, err := state.store.All(ctx)
	if err != nil {
		fmt.Printf("[Session %s] sample query error: %v\n", id[:8], err)
		return nil, false
	}
	return samples, true
}

// Envelope returns the plot axis bounds of a session.
func (m *Manager) Envelope(ctx context.Context, id string) (*runstore.Envelope, bool) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	env, err := state.store.Envelope(ctx)
	if err != nil {
		return nil, false
	}
	return env, true
}

// Close releases one session and its backing store.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.store.Close()
	delete(m.sessions, id)
	fmt.Printf("[Session %s] closed\n", id[:8])
	return true
}

// CloseAll releases every session; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, state := range m.sessions {
		state.store.Close()
		delete(m.sessions, id)
	}
}

// cleanupOldSessionsIfNeeded evicts the stalest sessions when at capacity.
func (m *Manager) cleanupOldSessionsIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) < MaxSessions {
		return
	}

	for len(m.sessions) >= MaxSessions {
		oldestID := ""
		var oldest time.Time
		for id, state := range m.sessions {
			if oldestID == "" || state.lastAccessed.Before(oldest) {
				oldestID = id
				oldest = state.lastAccessed
			}
		}
		if oldestID == "" {
			return
		}
		m.sessions[oldestID].store.Close()
		delete(m.sessions, oldestID)
		fmt.Printf("[Manager] evicted session %s to stay under limit\n", oldestID[:8])
	}
}

// CleanupOldSessions removes sessions older than maxAge, keeping any touched
// within the keep-alive window.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	keepAliveCutoff := time.Now().Add(-SessionKeepAliveWindow)

	for id, state := range m.sessions {
		if state.lastAccessed.After(keepAliveCutoff) {
			continue
		}
		if state.lastAccessed.Before(cutoff) {
			state.store.Close()
			delete(m.sessions, id)
			fmt.Printf("[Manager] cleaned up aged session %s (last accessed %s ago)\n",
				id[:8], time.Since(state.lastAccessed).Round(time.Second))
		}
	}
}
