package internal

import (
	"sync"

	errs "github.com/Watson-Will/babel/pkg/errors"
	utils "github.com/Watson-Will/babel/pkg/util"
)

// Frame is one outbound delivery to a front-end session: either a text
// payload or a binary payload, never both.
type Frame struct {
	Text   string
	Binary []byte
}

func (f Frame) IsBinary() bool {
	return f.Binary != nil
}

// SessionState tracks the lifecycle of one front-end connection. Closed is
// terminal; an identifier is never reused for a different delivery handle.
type SessionState int

const (
	SessionConnecting SessionState = iota
	SessionOpen
	SessionClosed
)

type Session struct {
	Id            uint64
	Outbound      chan<- Frame
	State         SessionState
	LastHeartbeat int64
}

// SessionStore owns the registry of live front-end sessions and the visitor
// counter. All mutation happens from the broker's command loop, so the lock
// only guards read access from sweeps and tests.
type SessionStore struct {
	mut          sync.RWMutex
	sessions     map[uint64]*Session
	visitorCount int
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uint64]*Session),
	}
}

// Add registers a delivery handle under a fresh random identifier and returns
// the identifier along with the visitor count after the insert.
func (store *SessionStore) Add(outbound chan<- Frame, timestamp int64) (uint64, int) {
	store.mut.Lock()
	defer store.mut.Unlock()

	id := utils.NewSessionId()
	for {
		if _, has := store.sessions[id]; !has {
			break
		}
		id = utils.NewSessionId()
	}

	store.sessions[id] = &Session{
		Id:            id,
		Outbound:      outbound,
		State:         SessionOpen,
		LastHeartbeat: timestamp,
	}
	store.visitorCount++

	return id, store.visitorCount
}

// Remove drops a session if present. The returned count is the visitor count
// after the removal, computed once so disconnect notices cannot drift.
func (store *SessionStore) Remove(id uint64) (count int, removed bool) {
	store.mut.Lock()
	defer store.mut.Unlock()

	session, has := store.sessions[id]
	if !has {
		return store.visitorCount, false
	}

	session.State = SessionClosed
	delete(store.sessions, id)
	store.visitorCount--

	return store.visitorCount, true
}

func (store *SessionStore) Get(id uint64) (*Session, error) {
	store.mut.RLock()
	defer store.mut.RUnlock()

	session, has := store.sessions[id]
	if !has {
		return nil, &errs.MissingSession{Id: id}
	}
	return session, nil
}

func (store *SessionStore) Has(id uint64) bool {
	store.mut.RLock()
	defer store.mut.RUnlock()

	_, has := store.sessions[id]
	return has
}

// Snapshot returns the live sessions at the time of the call. Broadcast
// iterates the snapshot so a slow delivery cannot hold the registry lock.
func (store *SessionStore) Snapshot() []*Session {
	store.mut.RLock()
	defer store.mut.RUnlock()

	out := make([]*Session, 0, len(store.sessions))
	for _, session := range store.sessions {
		out = append(out, session)
	}
	return out
}

func (store *SessionStore) VisitorCount() int {
	store.mut.RLock()
	defer store.mut.RUnlock()

	return store.visitorCount
}

func (store *SessionStore) Touch(id uint64, timestamp int64) {
	store.mut.Lock()
	defer store.mut.Unlock()

	if session, has := store.sessions[id]; has {
		session.LastHeartbeat = timestamp
	}
}

// GetTimeoutSessionList returns the ids of sessions whose last heartbeat is
// older than the given deadline.
func (store *SessionStore) GetTimeoutSessionList(deadline int64) []uint64 {
	store.mut.RLock()
	defer store.mut.RUnlock()

	sessionsToKick := []uint64{}

	for id, session := range store.sessions {
		if session.LastHeartbeat < deadline {
			sessionsToKick = append(sessionsToKick, id)
		}
	}

	return sessionsToKick
}
