package session

import "sync"

// Store owns the mapping from session ID to session state. Sessions live
// for the process lifetime; there is no eviction. The store also keeps an
// archive of every generated resource so the analyze flow can find
// payloads after delivery has drained them from their session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	archive  map[string]*Resource
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		archive:  make(map[string]*Resource),
	}
}

// GetOrCreate returns the session for the given ID, allocating it on
// first reference. An empty ID maps to DefaultID. Idempotent: later calls
// return the same instance.
func (st *Store) GetOrCreate(id string) *Session {
	if id == "" {
		id = DefaultID
	}

	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s = newSession(id)
	st.sessions[id] = s
	return s
}

// Archive retains a resource payload for later analysis, independent of
// the owning session's at-most-once delivery.
func (st *Store) Archive(res *Resource) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.archive[res.ID] = res
}

// ArchivedResource looks up a resource in the global archive.
func (st *Store) ArchivedResource(id string) (*Resource, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	res, ok := st.archive[id]
	return res, ok
}
