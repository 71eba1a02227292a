package forward

import "sync"

// clientSession is the per-client synthesized pseudo-connection state: an
// ingress queue from the receive-side loop to this session's worker.
type clientSession struct {
	ingress chan []byte
}

// sessionMap maps a downstream client address to its session's ingress
// queue handle. Lookups happen on the hot datagram-receive path and must be
// cheap and concurrent; inserts and removals are rare (session create and
// teardown). A sync.RWMutex-guarded map fits that access pattern:
// read-heavy, write-rare.
type sessionMap struct {
	mu       sync.RWMutex
	sessions map[string]*clientSession
}

func newSessionMap() *sessionMap {
	return &sessionMap{sessions: make(map[string]*clientSession)}
}

func (m *sessionMap) get(addr string) (*clientSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[addr]
	return s, ok
}

// getOrCreate returns the session for addr if one already exists; otherwise
// it atomically creates and inserts one. created reports which happened, so
// the caller knows whether to spawn a session worker.
func (m *sessionMap) getOrCreate(addr string, queueSize int) (s *clientSession, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[addr]; ok {
		return existing, false
	}
	s = &clientSession{ingress: make(chan []byte, queueSize)}
	m.sessions[addr] = s
	return s, true
}

// remove deletes addr's entry. A session worker calls this before closing
// its ingress channel, so a lookup made after the removal misses the map and
// triggers a fresh session. A lookup that raced ahead of the removal can
// still send on the channel after it is closed; trySend recovers from that
// and reports the datagram as dropped.
func (m *sessionMap) remove(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, addr)
}

func (m *sessionMap) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// trySend enqueues payload without blocking the caller (the server-socket
// receive loop), returning false if the queue is full (backpressure) or if
// the channel has already been closed by a session tearing down
// concurrently. Both cases fail fast rather than blocking the receive loop.
func trySend(ch chan []byte, payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case ch <- payload:
		return true
	default:
		return false
	}
}
