package session

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Store errors.
var (
	// ErrAlreadyExists is returned when creating a session under a handle
	// that is already in use.
	ErrAlreadyExists = errors.New("key handle already in use")

	// ErrNotFound is returned when looking up an unknown key handle.
	ErrNotFound = errors.New("invalid key handle")
)

// Store maps key handles to live sessions. It owns the session lifecycle:
// sessions are created here, looked up by every RPC handler, and removed on
// close. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create registers a new session for the handle with the given role and
// target key length. It fails with ErrAlreadyExists if the handle is taken.
func (st *Store) Create(handle string, role Role, requestedLength int) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[handle]; ok {
		return nil, ErrAlreadyExists
	}

	s := &Session{
		handle:          handle,
		role:            role,
		requestedLength: requestedLength,
		status:          StatusIdle,
	}
	st.sessions[handle] = s

	logrus.WithFields(logrus.Fields{
		"function":         "Create",
		"key_handle":       handle,
		"role":             role.String(),
		"requested_length": requestedLength,
	}).Info("Session created")
	return s, nil
}

// Get returns the session for the handle, or ErrNotFound.
func (st *Store) Get(handle string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete removes the session for the handle. It is idempotent and reports
// whether a session was actually removed, so an explicit close can surface
// an unknown handle while a peer-initiated close stays a silent no-op.
func (st *Store) Delete(handle string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[handle]; !ok {
		return false
	}
	delete(st.sessions, handle)

	logrus.WithFields(logrus.Fields{
		"function":   "Delete",
		"key_handle": handle,
	}).Info("Session deleted")
	return true
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
