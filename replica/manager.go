package replica

import (
	"context"
	"errors"
	"time"

	"github.com/yamabiko-db/yamabiko/backoff"
	"github.com/yamabiko-db/yamabiko/objectstore"
)

// Manager decides, per configured remote, whether a commit should trigger
// a push, and executes accepted pushes as cancelable, awaitable Futures.
type Manager struct {
	Store   objectstore.Store
	Policy  *Policy
	Remotes []Remote

	// MaxConcurrentPushes bounds how many pushes OnCommit dispatches at
	// once, the same "maxThreadCount" concern the teacher's TaskRunner
	// guards with. 0 means unbounded.
	MaxConcurrentPushes int
}

// NewManager constructs a replication Manager over store with no remotes
// configured yet.
func NewManager(store objectstore.Store) *Manager {
	return &Manager{Store: store, Policy: NewPolicy()}
}

// AddRemote registers (or replaces, by name) a replication target.
func (m *Manager) AddRemote(r Remote) {
	for i, existing := range m.Remotes {
		if existing.Name == r.Name {
			m.Remotes[i] = r
			return
		}
	}
	m.Remotes = append(m.Remotes, r)
}

// RemoveRemote unregisters a replication target by name.
func (m *Manager) RemoveRemote(name string) {
	out := m.Remotes[:0]
	for _, r := range m.Remotes {
		if r.Name != name {
			out = append(out, r)
		}
	}
	m.Remotes = out
}

// PushHandle pairs a dispatched push's remote name with its Future, so
// callers (the Collection façade's Set/SetBatch) can report
// (remote_name, outcome) pairs per spec.md §4.4 without having to await
// first to learn which remote a Future belongs to.
type PushHandle struct {
	Remote string
	Future *Future
}

// OnCommit evaluates the policy for every configured remote and dispatches
// a push for each one the policy decides to push now. Remotes the policy
// skips are absent from the returned slice, not represented with a nil
// error.
func (m *Manager) OnCommit(ctx context.Context) []PushHandle {
	now := time.Now()
	tr := newTaskRunner(m.MaxConcurrentPushes)
	var handles []PushHandle
	for _, r := range m.Remotes {
		if !m.Policy.ShouldPush(r, now) {
			continue
		}
		handles = append(handles, PushHandle{Remote: r.Name, Future: m.push(ctx, tr, r)})
	}
	return handles
}

// push dispatches a single push attempt through tr, retrying transient
// failures with Fibonacci backoff; a non-fast-forward rejection is never
// retried, matching spec.md §7's "replication push is not retried" for the
// stateless policy decision, while still allowing a single already-decided
// attempt to ride out a transient transport error.
func (m *Manager) push(ctx context.Context, tr *taskRunner, remote Remote) *Future {
	runCtx, cancel := context.WithCancel(ctx)
	ch := make(chan Outcome, 1)

	tr.Go(func() error {
		auth, err := AuthMethod(remote.Credentials)
		if err != nil {
			ch <- Outcome{Remote: remote.Name, Err: err}
			return err
		}

		err = backoff.Retry(runCtx, func(ctx context.Context) error {
			pushErr := m.Store.Push(ctx, remote.Name, remote.URL, auth)
			if pushErr == nil {
				return nil
			}
			var rejected *objectstore.PushRejected
			if errors.As(pushErr, &rejected) {
				return pushErr
			}
			return backoff.Retryable(pushErr)
		}, nil)
		ch <- Outcome{Remote: remote.Name, Err: err}
		return err
	})

	return &Future{ch: ch, cancel: cancel}
}
