package websocket

import (
	"sort"
	"sync"

	"warmupd/pkg/interfaces"
)

// Registry tracks open observer connections by ID
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection
}

func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]interfaces.Connection)}
}

// Register adds conn under its ID
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connections[conn.GetID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.GetID()] = conn
	return nil
}

// Unregister removes conn if it is the instance registered under its ID
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if registered, exists := r.connections[conn.GetID()]; exists && registered == conn {
		delete(r.connections, conn.GetID())
	}
}

func (r *Registry) Get(id string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// All returns every open connection ordered by ID
func (r *Registry) All() []interfaces.Connection {
	r.mu.RLock()
	out := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		out = append(out, conn)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].GetID() < out[j].GetID() })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll closes and forgets every connection
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.connections
	r.connections = make(map[string]interfaces.Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
