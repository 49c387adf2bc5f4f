// Package replica implements the replication policy engine: per-remote
// push decisions (All / Random(p) / Periodic(seconds)), SSH or
// environment-default push authentication, and a goroutine-backed
// deferred outcome the caller may await or cancel.
package replica

import (
	"math/rand"
	"sync"
	"time"
)

// Method names the policy's push-decision rule for a remote.
type Method string

const (
	// All pushes on every commit.
	All Method = "all"
	// Random pushes with probability Param (0 <= Param <= 1).
	Random Method = "random"
	// Periodic pushes if at least Param seconds have elapsed since the
	// last push to this remote; always pushes on the first call.
	Periodic Method = "periodic"
)

// Remote is one configured replication target.
type Remote struct {
	Name        string
	URL         string
	Method      Method
	Param       float64
	Credentials Credentials
}

// Policy tracks the per-remote state (last push time) a Periodic decision
// needs. It is safe for concurrent use.
type Policy struct {
	mu       sync.Mutex
	lastPush map[string]time.Time
	rng      func() float64
}

// NewPolicy constructs an empty Policy. last_push state starts empty, so
// the first decision for any remote under Periodic always pushes.
func NewPolicy() *Policy {
	return &Policy{
		lastPush: map[string]time.Time{},
		rng:      rand.Float64,
	}
}

// ShouldPush evaluates remote's push decision at now.
func (p *Policy) ShouldPush(remote Remote, now time.Time) bool {
	switch remote.Method {
	case All:
		return true
	case Random:
		return p.rng() < remote.Param
	case Periodic:
		p.mu.Lock()
		defer p.mu.Unlock()
		last, seen := p.lastPush[remote.Name]
		if seen && now.Sub(last).Seconds() < remote.Param {
			return false
		}
		p.lastPush[remote.Name] = now
		return true
	default:
		return false
	}
}
