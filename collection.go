package yamabiko

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/yamabiko-db/yamabiko/codec"
	"github.com/yamabiko-db/yamabiko/index"
	"github.com/yamabiko-db/yamabiko/objectstore"
	"github.com/yamabiko-db/yamabiko/query"
	"github.com/yamabiko-db/yamabiko/replica"
	"github.com/yamabiko-db/yamabiko/shard"
	"github.com/yamabiko-db/yamabiko/txn"
)

// Main is the collection's main line of history. Most callers pass this as
// the target branch for reads and writes; the only other valid targets are
// names previously returned by NewTransaction.
const Main = objectstore.MainBranch

// replicasConfigFile is the local, uncommitted file replica configuration is
// persisted to, adjacent to the repository directory.
const replicasConfigFile = "replicas.json"

// Collection is the façade wiring together the codec, shard, object store,
// index, transaction, query, and replication packages into the public
// contract described in spec.md §4.4. A single collection-wide lock
// serializes mutations and shares read access, per §5.
type Collection struct {
	mu sync.RWMutex

	store      objectstore.Store
	format     codec.Format
	marshaler  codec.Marshaler
	options    CollectionOptions
	registry   index.Registry
	idxMgr     *index.Manager
	txnMgr     *txn.Manager
	engine     *query.Engine
	replicaMgr *replica.Manager

	path       string
	configPath string
}

// OpenOrCreate opens the collection rooted at path, or initializes a new one
// if none exists there yet. For an existing collection, the persisted format
// must match the requested one or FormatMismatch is returned.
func OpenOrCreate(ctx context.Context, path string, format codec.Format, opts ...CollectionOptions) (*Collection, error) {
	opt := DefaultCollectionOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	store := objectstore.NewAt(path)
	if err := store.EnsureRepo(ctx); err != nil {
		return nil, newError(ObjectStoreError, err)
	}

	author := objectstore.Author{Name: opt.AuthorName, Email: opt.AuthorEmail, When: time.Now()}

	tip, ok, err := store.ResolveRef(ctx, Main)
	if err != nil {
		return nil, newError(ObjectStoreError, err)
	}

	var reg index.Registry
	if !ok {
		reg, err = bootstrap(ctx, store, format, author)
		if err != nil {
			return nil, err
		}
	} else {
		reg, err = verifyFormat(ctx, store, tip, format)
		if err != nil {
			return nil, err
		}
	}

	marshaler, err := codec.For(format)
	if err != nil {
		return nil, newError(SerializationFailed, err)
	}

	col := &Collection{
		store:      store,
		format:     format,
		marshaler:  marshaler,
		options:    opt,
		registry:   reg,
		idxMgr:     index.NewManager(opt.IndexLeafHashWidth),
		txnMgr:     txn.NewManager(store),
		engine:     query.NewEngine(store, format),
		replicaMgr: replica.NewManager(store),
		path:       path,
	}
	if path != "" {
		col.configPath = filepath.Join(path, replicasConfigFile)
		remotes, err := replica.LoadConfig(col.configPath)
		if err != nil {
			return nil, newError(ObjectStoreError, err)
		}
		col.replicaMgr.Remotes = remotes
	}
	return col, nil
}

// bootstrap writes the collection's one-and-only initialization commit: the
// format blob and an empty registry, with no user records, as the initial
// commit on main.
func bootstrap(ctx context.Context, store objectstore.Store, format codec.Format, author objectstore.Author) (index.Registry, error) {
	reg := index.Registry{}
	regData, err := reg.Marshal()
	if err != nil {
		return reg, newError(SerializationFailed, err)
	}
	tree, err := store.BuildTree(ctx, objectstore.ZeroOid, []objectstore.Mutation{
		{Path: "_format", Data: []byte(format.String())},
		{Path: index.ReservedPath, Data: regData},
	})
	if err != nil {
		return reg, newError(ObjectStoreError, err)
	}
	if _, err := store.Commit(ctx, tree, nil, "initialize collection", Main, author); err != nil {
		return reg, newError(ObjectStoreError, err)
	}
	return reg, nil
}

// verifyFormat reads an existing collection's persisted format and registry,
// failing with FormatMismatch if the requested format doesn't match.
func verifyFormat(ctx context.Context, store objectstore.Store, tip objectstore.Oid, format codec.Format) (index.Registry, error) {
	data, ok, err := store.ReadBlob(ctx, Main, "_format")
	if err != nil {
		return index.Registry{}, newError(ObjectStoreError, err)
	}
	if !ok {
		return index.Registry{}, newError(ObjectStoreError, fmt.Errorf("collection at main tip %s has no _format blob", tip))
	}
	if string(data) != format.String() {
		return index.Registry{}, newError(FormatMismatch, fmt.Errorf("collection format %q does not match requested %q", data, format.String()))
	}

	regData, ok, err := store.ReadBlob(ctx, Main, index.ReservedPath)
	if err != nil {
		return index.Registry{}, newError(ObjectStoreError, err)
	}
	if !ok {
		return index.Registry{}, nil
	}
	reg, err := index.Unmarshal(regData)
	if err != nil {
		return index.Registry{}, newError(DeserializationFailed, err)
	}
	return reg, nil
}

// lock acquires the collection's write lock, honoring options.LockTimeout
// (zero means wait indefinitely) and ctx cancellation.
func (c *Collection) lock(ctx context.Context) error {
	return acquire(ctx, c.options.LockTimeout, c.mu.TryLock)
}

// rlock acquires the collection's read lock under the same timeout policy.
func (c *Collection) rlock(ctx context.Context) error {
	return acquire(ctx, c.options.LockTimeout, c.mu.TryRLock)
}

func acquire(ctx context.Context, timeout time.Duration, tryAcquire func() bool) error {
	if tryAcquire() {
		return nil
	}
	if timeout <= 0 {
		timeout = time.Duration(1<<63 - 1)
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if tryAcquire() {
				return nil
			}
			if time.Now().After(deadline) {
				return newError(ObjectStoreError, fmt.Errorf("timed out waiting %s for collection lock", timeout))
			}
		}
	}
}

func (c *Collection) author() objectstore.Author {
	return objectstore.Author{Name: c.options.AuthorName, Email: c.options.AuthorEmail, When: time.Now()}
}

// Get resolves key's blob at target (Main or a transaction branch name),
// decoding it into out. found is false, with a nil error, if the key is
// absent — a missing key is not itself an error.
func (c *Collection) Get(ctx context.Context, key string, target string, out any) (found bool, err error) {
	if err := c.rlock(ctx); err != nil {
		return false, err
	}
	defer c.mu.RUnlock()

	p, err := shard.Path(key)
	if err != nil {
		return false, newError(InvalidKey, err)
	}
	data, ok, err := c.store.ReadBlob(ctx, target, p)
	if err != nil {
		return false, newError(ObjectStoreError, err)
	}
	if !ok {
		return false, nil
	}
	if err := c.marshaler.Unmarshal(data, out); err != nil {
		return false, newError(DeserializationFailed, err)
	}
	return true, nil
}

// Set encodes value, commits it at key on target, and — when target is
// Main — evaluates replication for every configured remote, returning the
// dispatched push handles.
func (c *Collection) Set(ctx context.Context, key string, value any, target string) ([]replica.PushHandle, error) {
	return c.SetBatch(ctx, map[string]any{key: value}, target)
}

// SetBatch is Set for many keys in a single commit. Index mutations are
// coalesced into that commit. If the same key is supplied twice (impossible
// for a Go map, but mirrored here for callers building one from an ordered
// slice elsewhere) the last write wins.
func (c *Collection) SetBatch(ctx context.Context, entries map[string]any, target string) ([]replica.PushHandle, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	tip, ok, err := c.store.ResolveRef(ctx, target)
	if err != nil {
		return nil, newError(ObjectStoreError, err)
	}
	if !ok {
		return nil, newError(TransactionNotFound, fmt.Errorf("target %q has no commits", target))
	}
	tree, err := c.store.CommitTree(ctx, tip)
	if err != nil {
		return nil, newError(ObjectStoreError, err)
	}

	var recordMuts []objectstore.Mutation
	var indexMuts []objectstore.Mutation
	for key, value := range entries {
		p, err := shard.Path(key)
		if err != nil {
			return nil, newError(InvalidKey, err)
		}
		newData, err := c.marshaler.Marshal(value)
		if err != nil {
			return nil, newError(SerializationFailed, err)
		}
		oldData, hadOld, err := c.store.ReadBlob(ctx, target, p)
		if err != nil {
			return nil, newError(ObjectStoreError, err)
		}
		recordMuts = append(recordMuts, objectstore.Mutation{Path: p, Data: newData})
		indexMuts = append(indexMuts, c.idxMgr.Deltas(c.registry, c.format, key, oldData, hadOld, newData, true)...)
	}

	newTree, err := c.store.BuildTree(ctx, tree, append(recordMuts, indexMuts...))
	if err != nil {
		return nil, newError(ObjectStoreError, err)
	}
	if _, err := c.store.Commit(ctx, newTree, []objectstore.Oid{tip}, commitMessage(entries), target, c.author()); err != nil {
		return nil, newError(ObjectStoreError, err)
	}

	return c.replicateIfMain(ctx, target), nil
}

func commitMessage(entries map[string]any) string {
	if len(entries) == 1 {
		for k := range entries {
			return "set " + k
		}
	}
	return fmt.Sprintf("set %d keys", len(entries))
}

// Delete removes key's record and index entries on target. Per the Open
// Question resolution in SPEC_FULL.md §9, deleting an absent key is a no-op:
// no commit is produced and no replication is triggered.
func (c *Collection) Delete(ctx context.Context, key string, target string) ([]replica.PushHandle, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	tip, ok, err := c.store.ResolveRef(ctx, target)
	if err != nil {
		return nil, newError(ObjectStoreError, err)
	}
	if !ok {
		return nil, newError(TransactionNotFound, fmt.Errorf("target %q has no commits", target))
	}

	p, err := shard.Path(key)
	if err != nil {
		return nil, newError(InvalidKey, err)
	}
	oldData, hadOld, err := c.store.ReadBlob(ctx, target, p)
	if err != nil {
		return nil, newError(ObjectStoreError, err)
	}
	if !hadOld {
		return nil, nil
	}

	tree, err := c.store.CommitTree(ctx, tip)
	if err != nil {
		return nil, newError(ObjectStoreError, err)
	}

	muts := []objectstore.Mutation{{Path: p, Delete: true}}
	muts = append(muts, c.idxMgr.Deltas(c.registry, c.format, key, oldData, true, nil, false)...)

	newTree, err := c.store.BuildTree(ctx, tree, muts)
	if err != nil {
		return nil, newError(ObjectStoreError, err)
	}
	if _, err := c.store.Commit(ctx, newTree, []objectstore.Oid{tip}, "delete "+key, target, c.author()); err != nil {
		return nil, newError(ObjectStoreError, err)
	}

	return c.replicateIfMain(ctx, target), nil
}

func (c *Collection) replicateIfMain(ctx context.Context, target string) []replica.PushHandle {
	if target != Main {
		return nil
	}
	return c.replicaMgr.OnCommit(ctx)
}

// NewTransaction creates a long-lived branch named name at main's current
// tip, returning the commit it starts from.
func (c *Collection) NewTransaction(ctx context.Context, name string) (objectstore.Oid, error) {
	if err := c.lock(ctx); err != nil {
		return objectstore.ZeroOid, err
	}
	defer c.mu.Unlock()

	oid, err := c.txnMgr.New(ctx, name, c.author())
	if err != nil {
		return objectstore.ZeroOid, newError(ObjectStoreError, err)
	}
	return oid, nil
}

// ApplyTransaction merges transaction name into main per the apply-merge
// algorithm in SPEC_FULL.md §4.5, then deletes the branch.
func (c *Collection) ApplyTransaction(ctx context.Context, name string) (objectstore.Oid, error) {
	if err := c.lock(ctx); err != nil {
		return objectstore.ZeroOid, err
	}
	defer c.mu.Unlock()

	oid, err := c.txnMgr.Apply(ctx, name, c.registry, c.format, c.idxMgr, c.author())
	if err != nil {
		return objectstore.ZeroOid, translateTxnError(err)
	}
	return oid, nil
}

// AbandonTransaction deletes transaction branch name without merging it.
func (c *Collection) AbandonTransaction(ctx context.Context, name string) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if err := c.txnMgr.Abandon(ctx, name); err != nil {
		return translateTxnError(err)
	}
	return nil
}

func translateTxnError(err error) error {
	switch err {
	case txn.ErrTransactionNotFound:
		return newError(TransactionNotFound, err)
	case txn.ErrTransactionConflict:
		return newError(TransactionConflict, err)
	default:
		return newError(ObjectStoreError, err)
	}
}

// RevertN creates a new commit on main whose record tree equals the tree n
// commits back from the current tip, with indexes rebuilt from the current
// registry.
func (c *Collection) RevertN(ctx context.Context, n int) (objectstore.Oid, error) {
	if err := c.lock(ctx); err != nil {
		return objectstore.ZeroOid, err
	}
	defer c.mu.Unlock()

	tip, ok, err := c.store.ResolveRef(ctx, Main)
	if err != nil {
		return objectstore.ZeroOid, newError(ObjectStoreError, err)
	}
	if !ok {
		return objectstore.ZeroOid, newError(ObjectStoreError, fmt.Errorf("main has no commits"))
	}
	target := tip
	for i := 0; i < n; i++ {
		parents, err := c.store.CommitParents(ctx, target)
		if err != nil {
			return objectstore.ZeroOid, newError(ObjectStoreError, err)
		}
		if len(parents) == 0 {
			return objectstore.ZeroOid, newError(ObjectStoreError, fmt.Errorf("cannot revert %d commits: history exhausted after %d", n, i))
		}
		target = parents[0]
	}
	return c.revertTo(ctx, tip, target)
}

// RevertTo creates a new commit on main whose record tree equals commit's
// tree, with indexes rebuilt from the current registry — never a raw tree
// copy of "_index/" if the registry has since changed.
func (c *Collection) RevertTo(ctx context.Context, commit objectstore.Oid) (objectstore.Oid, error) {
	if err := c.lock(ctx); err != nil {
		return objectstore.ZeroOid, err
	}
	defer c.mu.Unlock()

	tip, ok, err := c.store.ResolveRef(ctx, Main)
	if err != nil {
		return objectstore.ZeroOid, newError(ObjectStoreError, err)
	}
	if !ok {
		return objectstore.ZeroOid, newError(ObjectStoreError, fmt.Errorf("main has no commits"))
	}
	return c.revertTo(ctx, tip, commit)
}

func (c *Collection) revertTo(ctx context.Context, tip, target objectstore.Oid) (objectstore.Oid, error) {
	targetTree, err := c.store.CommitTree(ctx, target)
	if err != nil {
		return objectstore.ZeroOid, newError(ObjectStoreError, err)
	}

	records, err := c.scanRecords(ctx, targetTree)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	recordTree, err := stripIndexSubtree(ctx, c.store, targetTree)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	rebuilt := c.idxMgr.Rebuild(c.registry, c.format, records)
	regData, err := c.registry.Marshal()
	if err != nil {
		return objectstore.ZeroOid, newError(SerializationFailed, err)
	}
	rebuilt = append(rebuilt, objectstore.Mutation{Path: index.ReservedPath, Data: regData})
	finalTree, err := c.store.BuildTree(ctx, recordTree, rebuilt)
	if err != nil {
		return objectstore.ZeroOid, newError(ObjectStoreError, err)
	}

	oid, err := c.store.Commit(ctx, finalTree, []objectstore.Oid{tip}, fmt.Sprintf("revert to %s", target), Main, c.author())
	if err != nil {
		return objectstore.ZeroOid, newError(ObjectStoreError, err)
	}
	return oid, nil
}

// AddIndex registers field under kind and performs a full scan of target,
// emitting one commit that materializes every matching entry.
func (c *Collection) AddIndex(ctx context.Context, field string, kind index.Kind, target string) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if c.registry.Has(field) {
		return newError(IndexAlreadyExists, fmt.Errorf("index on %q already exists", field))
	}

	tip, ok, err := c.store.ResolveRef(ctx, target)
	if err != nil {
		return newError(ObjectStoreError, err)
	}
	if !ok {
		return newError(TransactionNotFound, fmt.Errorf("target %q has no commits", target))
	}
	tree, err := c.store.CommitTree(ctx, tip)
	if err != nil {
		return newError(ObjectStoreError, err)
	}

	records, err := c.scanRecords(ctx, tree)
	if err != nil {
		return err
	}

	newReg := c.registry.With(field, kind)
	singleFieldReg := index.Registry{Entries: []index.Entry{{Field: field, Kind: kind}}}
	newEntryMuts := c.idxMgr.Rebuild(singleFieldReg, c.format, records)

	regData, err := newReg.Marshal()
	if err != nil {
		return newError(SerializationFailed, err)
	}
	allMuts := append(newEntryMuts, objectstore.Mutation{Path: index.ReservedPath, Data: regData})

	newTree, err := c.store.BuildTree(ctx, tree, allMuts)
	if err != nil {
		return newError(ObjectStoreError, err)
	}
	if _, err := c.store.Commit(ctx, newTree, []objectstore.Oid{tip}, "add index "+field, target, c.author()); err != nil {
		return newError(ObjectStoreError, err)
	}
	c.registry = newReg
	return nil
}

// RemoveIndex unregisters field and strips its materialized entries from
// target in one commit.
func (c *Collection) RemoveIndex(ctx context.Context, field string, target string) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()

	kind, ok := c.registry.Kind(field)
	if !ok {
		return newError(IndexUnknown, fmt.Errorf("no index on %q", field))
	}

	tip, ok, err := c.store.ResolveRef(ctx, target)
	if err != nil {
		return newError(ObjectStoreError, err)
	}
	if !ok {
		return newError(TransactionNotFound, fmt.Errorf("target %q has no commits", target))
	}
	tree, err := c.store.CommitTree(ctx, tip)
	if err != nil {
		return newError(ObjectStoreError, err)
	}

	base := fmt.Sprintf("%s/%s/%s", index.ReservedPrefix, field, kind)
	leaves, err := allBlobLeaves(ctx, c.store, tree, base)
	if err != nil {
		return newError(ObjectStoreError, err)
	}
	var muts []objectstore.Mutation
	for _, l := range leaves {
		muts = append(muts, objectstore.Mutation{Path: l, Delete: true})
	}

	newReg := c.registry.Without(field)
	regData, err := newReg.Marshal()
	if err != nil {
		return newError(SerializationFailed, err)
	}
	muts = append(muts, objectstore.Mutation{Path: index.ReservedPath, Data: regData})

	newTree, err := c.store.BuildTree(ctx, tree, muts)
	if err != nil {
		return newError(ObjectStoreError, err)
	}
	if _, err := c.store.Commit(ctx, newTree, []objectstore.Oid{tip}, "remove index "+field, target, c.author()); err != nil {
		return newError(ObjectStoreError, err)
	}
	c.registry = newReg
	return nil
}

// Query executes predicate against target, using the registry's indexes
// where the planner can and falling back to a full scan otherwise. limit<=0
// means unlimited.
func (c *Collection) Query(ctx context.Context, target string, predicate query.Predicate, limit int) ([]query.Result, error) {
	if err := c.rlock(ctx); err != nil {
		return nil, err
	}
	defer c.mu.RUnlock()

	return c.engine.Run(ctx, target, c.registry, predicate, limit)
}

// QueryExpr parses expression as a CEL-flavored predicate string before
// running it, for callers (the CLI) that want to express queries as text.
func (c *Collection) QueryExpr(ctx context.Context, target string, expression string, limit int) ([]query.Result, error) {
	predicate, err := query.ParsePredicate(expression)
	if err != nil {
		return nil, newError(DeserializationFailed, err)
	}
	return c.Query(ctx, target, predicate, limit)
}

// Indexes returns the collection's currently registered {field, kind}
// pairs.
func (c *Collection) Indexes() []index.Entry {
	if err := c.rlock(context.Background()); err != nil {
		return nil
	}
	defer c.mu.RUnlock()

	return append([]index.Entry{}, c.registry.Entries...)
}

// Replicas returns the currently configured replication targets.
func (c *Collection) Replicas() []replica.Remote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]replica.Remote, len(c.replicaMgr.Remotes))
	copy(out, c.replicaMgr.Remotes)
	return out
}

// AddReplica registers (or replaces, by name) a replication target and
// persists the updated set to the local configuration file.
func (c *Collection) AddReplica(r replica.Remote) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.replicaMgr.AddRemote(r)
	return c.saveReplicaConfig()
}

// RemoveReplica unregisters a replication target by name and persists the
// updated set.
func (c *Collection) RemoveReplica(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.replicaMgr.RemoveRemote(name)
	return c.saveReplicaConfig()
}

func (c *Collection) saveReplicaConfig() error {
	if c.configPath == "" {
		return nil
	}
	if err := replica.SaveConfig(c.configPath, c.replicaMgr.Remotes); err != nil {
		return newError(ObjectStoreError, err)
	}
	return nil
}

// scanRecords decodes every record under tree (excluding the reserved
// namespace), recovering each one's original key via shard.KeyFromPath.
func (c *Collection) scanRecords(ctx context.Context, tree objectstore.Oid) ([]index.Record, error) {
	var records []index.Record
	var walk func(path string) error
	walk = func(path string) error {
		entries, err := c.store.ListTreeAt(ctx, tree, path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			full := e.Name
			if path != "" {
				full = path + "/" + e.Name
			}
			if path == "" && (e.Name == shard.ReservedPrefix || shard.ReservedPaths[e.Name]) {
				continue
			}
			if e.IsDir {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			data, ok, err := c.store.ReadBlobAt(ctx, tree, full)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			records = append(records, index.Record{Key: shard.KeyFromPath(full), Data: data})
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, newError(ObjectStoreError, err)
	}
	return records, nil
}

// stripIndexSubtree returns tree with its "_index/" subtree deleted,
// leaving the record namespace and the reserved "_format"/"_index_registry"
// blobs untouched.
func stripIndexSubtree(ctx context.Context, store objectstore.Store, tree objectstore.Oid) (objectstore.Oid, error) {
	entries, err := store.ListTreeAt(ctx, tree, "")
	if err != nil {
		return objectstore.ZeroOid, newError(ObjectStoreError, err)
	}
	hasIndex := false
	for _, e := range entries {
		if e.Name == index.ReservedPrefix {
			hasIndex = true
			break
		}
	}
	if !hasIndex {
		return tree, nil
	}
	newTree, err := store.BuildTree(ctx, tree, []objectstore.Mutation{{Path: index.ReservedPrefix, Delete: true}})
	if err != nil {
		return objectstore.ZeroOid, newError(ObjectStoreError, err)
	}
	return newTree, nil
}

// allBlobLeaves recursively lists every blob path under tree/prefix.
func allBlobLeaves(ctx context.Context, store objectstore.Store, tree objectstore.Oid, prefix string) ([]string, error) {
	var out []string
	var walk func(p string) error
	walk = func(p string) error {
		entries, err := store.ListTreeAt(ctx, tree, p)
		if err != nil {
			return err
		}
		for _, e := range entries {
			full := p + "/" + e.Name
			if e.IsDir {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			out = append(out, full)
		}
		return nil
	}
	if err := walk(prefix); err != nil {
		return nil, err
	}
	return out, nil
}
