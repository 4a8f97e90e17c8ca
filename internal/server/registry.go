package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"trackcast/internal/stream"
)

type activeSession struct {
	session *stream.Session
	conn    *wsConn
	source  string
	remote  string
}

type ActiveSessionSpec struct {
	Id        string    `json:"id"`
	Source    string    `json:"source"`
	Origin    string    `json:"origin"`
	Remote    string    `json:"remote"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"startedAt"`
	Delivered uint64    `json:"delivered"`
}

// registry tracks live sessions so they can be listed and drained on shutdown.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*activeSession
	closed   bool
	wg       sync.WaitGroup
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*activeSession)}
}

// add registers a session. It returns false once the registry is closed.
func (r *registry) add(a *activeSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.sessions[a.session.ID()] = a
	r.wg.Add(1)
	return true
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		r.wg.Done()
	}
}

func (r *registry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// closeConns closes the connections of all live sessions, failing any send that is stuck on a
// client that stopped reading.
func (r *registry) closeConns() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.sessions {
		if a.conn != nil {
			a.conn.Close()
		}
	}
}

func (r *registry) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *registry) list() []ActiveSessionSpec {
	r.mu.Lock()
	specs := make([]ActiveSessionSpec, 0, len(r.sessions))
	for _, a := range r.sessions {
		specs = append(specs, ActiveSessionSpec{
			Id:        a.session.ID(),
			Source:    a.source,
			Origin:    a.session.Origin(),
			Remote:    a.remote,
			State:     a.session.State().String(),
			StartedAt: a.session.StartedAt(),
			Delivered: a.session.Delivered(),
		})
	}
	r.mu.Unlock()

	sort.Slice(specs, func(i, j int) bool {
		return specs[i].StartedAt.Before(specs[j].StartedAt)
	})
	return specs
}
