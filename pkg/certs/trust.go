package certs

import (
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/yuxki/dytrust/pkg/date"
)

// TrustStore decides whether a certificate is a trust anchor at a given time.
type TrustStore interface {
	IsTrusted(cert *Certificate, at time.Time) bool
}

// Pool is an in-memory TrustStore keyed by certificate digest.
type Pool struct {
	mu      sync.RWMutex
	anchors map[digest.Digest]date.Window
}

// NewPool creates and returns an empty Pool.
func NewPool() *Pool {
	return &Pool{anchors: make(map[digest.Digest]date.Window)}
}

// Add trusts cert without time restriction.
func (p *Pool) Add(cert *Certificate) {
	p.AddWithin(cert, date.Window{})
}

// AddWithin trusts cert only while w covers the control time.
func (p *Pool) AddWithin(cert *Certificate, w date.Window) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.anchors[cert.Digest()] = w
}

// Len returns the number of anchors.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.anchors)
}

func (p *Pool) IsTrusted(cert *Certificate, at time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	w, ok := p.anchors[cert.Digest()]
	if !ok {
		return false
	}
	return w.Covers(at)
}
