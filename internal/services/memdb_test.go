package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/inaiurai/studio/internal/database"
	"github.com/inaiurai/studio/internal/execution"
	"github.com/inaiurai/studio/internal/ledger"
	"github.com/inaiurai/studio/internal/metrics"
	"github.com/inaiurai/studio/internal/models"
	"github.com/inaiurai/studio/internal/notify"
)

var errUnsupported = errors.New("memdb: raw SQL not supported")

type unitKey struct {
	gen uuid.UUID
	idx int
}

type memState struct {
	balances map[uuid.UUID]models.Credits
	entries  []models.CreditEntry
	gens     map[uuid.UUID]*models.Generation
	images   map[uuid.UUID]*models.Image
	units    map[unitKey]*models.Unit
	jobs     []execution.GenerateJobArgs
	// units whose job river no longer holds
	deadJobs map[unitKey]bool
}

func newMemState() *memState {
	return &memState{
		balances: map[uuid.UUID]models.Credits{},
		gens:     map[uuid.UUID]*models.Generation{},
		images:   map[uuid.UUID]*models.Image{},
		units:    map[unitKey]*models.Unit{},
		deadJobs: map[unitKey]bool{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.balances {
		c.balances[k] = v
	}
	c.entries = slices.Clone(s.entries)
	for k, v := range s.gens {
		c.gens[k] = cloneGeneration(v)
	}
	for k, v := range s.images {
		cp := *v
		c.images[k] = &cp
	}
	for k, v := range s.units {
		cp := *v
		c.units[k] = &cp
	}
	c.jobs = slices.Clone(s.jobs)
	for k, v := range s.deadJobs {
		c.deadJobs[k] = v
	}
	return c
}

func cloneGeneration(g *models.Generation) *models.Generation {
	cp := *g
	cp.MediaURLs = slices.Clone(g.MediaURLs)
	return &cp
}

// memDB is a transactional in-memory store. Transactions are serialized and
// work on a private copy that replaces the committed state on Commit.
type memDB struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *memState
}

func newMemDB() *memDB { return &memDB{state: newMemState()} }

var _ database.DB = (*memDB)(nil)

func (db *memDB) Begin(context.Context) (pgx.Tx, error) {
	db.txMu.Lock()
	db.mu.RLock()
	st := db.state.clone()
	db.mu.RUnlock()
	return &memTx{db: db, state: st}, nil
}

func (db *memDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errUnsupported
}
func (db *memDB) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, errUnsupported }
func (db *memDB) QueryRow(context.Context, string, ...any) pgx.Row        { return errRow{} }

type errRow struct{}

func (errRow) Scan(...any) error { return errUnsupported }

// read runs fn on the transaction's working copy, or on committed state.
func (db *memDB) read(q any, fn func(*memState) error) error {
	if tx, ok := q.(*memTx); ok {
		return fn(tx.state)
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn(db.state)
}

// write runs fn inside the transaction, or as its own auto-committed one.
func (db *memDB) write(q any, fn func(*memState) error) error {
	if tx, ok := q.(*memTx); ok {
		if tx.done {
			return pgx.ErrTxClosed
		}
		return fn(tx.state)
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()
	next := db.state.clone()
	if err := fn(next); err != nil {
		return err
	}
	db.state = next
	return nil
}

func (db *memDB) snapshot() *memState {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.state.clone()
}

// memTx satisfies pgx.Tx; statements go through the fake stores instead.
type memTx struct {
	db    *memDB
	state *memState
	done  bool
}

func (t *memTx) Begin(context.Context) (pgx.Tx, error) { return nil, errors.New("memdb: nested tx") }
func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.mu.Lock()
	t.db.state = t.state
	t.db.mu.Unlock()
	t.db.txMu.Unlock()
	return nil
}
func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.txMu.Unlock()
	return nil
}
func (t *memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errUnsupported
}
func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, errUnsupported }
func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row        { return errRow{} }
func (t *memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errUnsupported
}
func (t *memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errUnsupported
}
func (t *memTx) Conn() *pgx.Conn { return nil }

// Fake stores over memDB.

type memLedgerRepo struct{ db *memDB }

func (r memLedgerRepo) Withdraw(_ context.Context, tx pgx.Tx, accountID uuid.UUID, amount models.Credits) (models.Credits, error) {
	var after models.Credits
	err := r.db.write(tx, func(st *memState) error {
		bal, ok := st.balances[accountID]
		if !ok {
			return models.ErrNotFound
		}
		if bal < amount {
			return models.ErrInsufficientFunds
		}
		after = bal - amount
		st.balances[accountID] = after
		return nil
	})
	return after, err
}

func (r memLedgerRepo) Deposit(_ context.Context, tx pgx.Tx, accountID uuid.UUID, amount models.Credits) (models.Credits, error) {
	var after models.Credits
	err := r.db.write(tx, func(st *memState) error {
		bal, ok := st.balances[accountID]
		if !ok {
			return models.ErrNotFound
		}
		after = bal + amount
		st.balances[accountID] = after
		return nil
	})
	return after, err
}

func (r memLedgerRepo) InsertEntry(_ context.Context, tx pgx.Tx, e *models.CreditEntry) error {
	return r.db.write(tx, func(st *memState) error {
		e.CreatedAt = time.Now()
		st.entries = append(st.entries, *e)
		return nil
	})
}

func (r memLedgerRepo) GetBalance(_ context.Context, q database.DBTX, accountID uuid.UUID) (models.Credits, error) {
	var bal models.Credits
	err := r.db.read(q, func(st *memState) error {
		b, ok := st.balances[accountID]
		if !ok {
			return models.ErrNotFound
		}
		bal = b
		return nil
	})
	return bal, err
}

type memGenerations struct{ db *memDB }

func (r memGenerations) Create(_ context.Context, q database.DBTX, g *models.Generation) error {
	return r.db.write(q, func(st *memState) error {
		now := time.Now()
		g.CreatedAt, g.UpdatedAt = now, now
		st.gens[g.ID] = cloneGeneration(g)
		return nil
	})
}

func (r memGenerations) get(q any, id uuid.UUID) (*models.Generation, error) {
	var out *models.Generation
	err := r.db.read(q, func(st *memState) error {
		g, ok := st.gens[id]
		if !ok || g.Lifecycle == models.LifecyclePurged {
			return models.ErrNotFound
		}
		out = cloneGeneration(g)
		return nil
	})
	return out, err
}

func (r memGenerations) GetByID(_ context.Context, q database.DBTX, id uuid.UUID) (*models.Generation, error) {
	return r.get(q, id)
}

func (r memGenerations) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Generation, error) {
	return r.get(tx, id)
}

func (r memGenerations) ListByAccount(_ context.Context, q database.DBTX, accountID uuid.UUID, lc models.Lifecycle, limit int) ([]*models.Generation, error) {
	var out []*models.Generation
	err := r.db.read(q, func(st *memState) error {
		for _, g := range st.gens {
			if g.AccountID == accountID && g.Lifecycle == lc {
				out = append(out, cloneGeneration(g))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Generation) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r memGenerations) AdvanceStatus(_ context.Context, q database.DBTX, id uuid.UUID, to models.GenerationStatus) (bool, error) {
	moved := false
	err := r.db.write(q, func(st *memState) error {
		g, ok := st.gens[id]
		if ok && g.Status.CanTransitionTo(to) {
			g.Status = to
			g.UpdatedAt = time.Now()
			moved = true
		}
		return nil
	})
	return moved, err
}

func (r memGenerations) Finalize(_ context.Context, tx pgx.Tx, id uuid.UUID, status models.GenerationStatus, completed int, errMsg *string) error {
	return r.db.write(tx, func(st *memState) error {
		g, ok := st.gens[id]
		if !ok || !g.Status.CanTransitionTo(status) {
			return models.ErrInvalidState
		}
		now := time.Now()
		g.Status, g.CompletedCount, g.ErrorMessage, g.CompletedAt = status, completed, errMsg, &now
		return nil
	})
}

func (r memGenerations) AppendMedia(_ context.Context, tx pgx.Tx, id uuid.UUID, url string) error {
	return r.db.write(tx, func(st *memState) error {
		if g, ok := st.gens[id]; ok && !slices.Contains(g.MediaURLs, url) {
			g.MediaURLs = append(g.MediaURLs, url)
		}
		return nil
	})
}

func (r memGenerations) SetLifecycle(_ context.Context, tx pgx.Tx, id uuid.UUID, lc models.Lifecycle, at *time.Time) error {
	return r.db.write(tx, func(st *memState) error {
		if g, ok := st.gens[id]; ok && g.Lifecycle != models.LifecyclePurged {
			g.Lifecycle, g.SoftDeletedAt = lc, at
		}
		return nil
	})
}

func (r memGenerations) MarkPurged(_ context.Context, tx pgx.Tx, id uuid.UUID, _ time.Time) error {
	return r.db.write(tx, func(st *memState) error {
		if g, ok := st.gens[id]; ok {
			g.Lifecycle = models.LifecyclePurged
			g.MediaURLs = []string{}
		}
		return nil
	})
}

func (r memGenerations) ListExpiredTrash(_ context.Context, tx pgx.Tx, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var cands []*models.Generation
	err := r.db.read(tx, func(st *memState) error {
		for _, g := range st.gens {
			if g.Lifecycle == models.LifecycleSoftDeleted && g.SoftDeletedAt != nil && !g.SoftDeletedAt.After(cutoff) {
				cands = append(cands, g)
			}
		}
		return nil
	})
	slices.SortFunc(cands, func(a, b *models.Generation) int { return a.SoftDeletedAt.Compare(*b.SoftDeletedAt) })
	var ids []uuid.UUID
	for i, g := range cands {
		if i == limit {
			break
		}
		ids = append(ids, g.ID)
	}
	return ids, err
}

func (r memGenerations) ListTrashIDs(_ context.Context, tx pgx.Tx, accountID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.read(tx, func(st *memState) error {
		for _, g := range st.gens {
			if g.AccountID == accountID && g.Lifecycle == models.LifecycleSoftDeleted {
				ids = append(ids, g.ID)
			}
		}
		return nil
	})
	return ids, err
}

type memImages struct{ db *memDB }

func (r memImages) Insert(_ context.Context, tx pgx.Tx, img *models.Image) (bool, error) {
	inserted := false
	err := r.db.write(tx, func(st *memState) error {
		for _, cur := range st.images {
			if cur.GenerationID == img.GenerationID && cur.Index == img.Index {
				return nil
			}
		}
		if img.ID == uuid.Nil {
			img.ID = uuid.New()
		}
		cp := *img
		cp.Lifecycle = models.LifecycleActive
		cp.CreatedAt = time.Now()
		st.images[cp.ID] = &cp
		inserted = true
		return nil
	})
	return inserted, err
}

func (r memImages) get(q any, id uuid.UUID) (*models.Image, error) {
	var out *models.Image
	err := r.db.read(q, func(st *memState) error {
		img, ok := st.images[id]
		if !ok {
			return models.ErrNotFound
		}
		cp := *img
		out = &cp
		return nil
	})
	return out, err
}

func (r memImages) GetByID(_ context.Context, q database.DBTX, id uuid.UUID) (*models.Image, error) {
	return r.get(q, id)
}

func (r memImages) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Image, error) {
	return r.get(tx, id)
}

func (r memImages) ListByGeneration(_ context.Context, q database.DBTX, generationID uuid.UUID) ([]*models.Image, error) {
	var out []*models.Image
	err := r.db.read(q, func(st *memState) error {
		for _, img := range st.images {
			if img.GenerationID == generationID {
				cp := *img
				out = append(out, &cp)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Image) int { return a.Index - b.Index })
	return out, err
}

func (r memImages) CountByLifecycle(_ context.Context, q database.DBTX, generationID uuid.UUID, lc models.Lifecycle) (int, error) {
	n := 0
	err := r.db.read(q, func(st *memState) error {
		for _, img := range st.images {
			if img.GenerationID == generationID && img.Lifecycle == lc {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r memImages) SetLifecycle(_ context.Context, tx pgx.Tx, id uuid.UUID, lc models.Lifecycle, at *time.Time) error {
	return r.db.write(tx, func(st *memState) error {
		if img, ok := st.images[id]; ok {
			img.Lifecycle, img.DiscardedAt = lc, at
		}
		return nil
	})
}

func (r memImages) RestoreDiscarded(_ context.Context, tx pgx.Tx, generationID uuid.UUID) (int, error) {
	n := 0
	err := r.db.write(tx, func(st *memState) error {
		for _, img := range st.images {
			if img.GenerationID == generationID && img.Lifecycle == models.LifecycleDiscarded {
				img.Lifecycle, img.DiscardedAt = models.LifecycleActive, nil
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r memImages) DeleteByGeneration(_ context.Context, tx pgx.Tx, generationID uuid.UUID, onlyDiscarded bool) ([]*models.Image, error) {
	var out []*models.Image
	err := r.db.write(tx, func(st *memState) error {
		for id, img := range st.images {
			if img.GenerationID != generationID {
				continue
			}
			if onlyDiscarded && img.Lifecycle != models.LifecycleDiscarded {
				continue
			}
			out = append(out, img)
			delete(st.images, id)
		}
		return nil
	})
	return out, err
}

func (r memImages) ListLiveGenerationsWithDiscarded(_ context.Context, tx pgx.Tx, accountID uuid.UUID) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	err := r.db.read(tx, func(st *memState) error {
		for _, img := range st.images {
			g := st.gens[img.GenerationID]
			if g == nil || g.AccountID != accountID || g.Lifecycle != models.LifecycleActive {
				continue
			}
			if img.Lifecycle == models.LifecycleDiscarded && !seen[g.ID] {
				seen[g.ID] = true
				ids = append(ids, g.ID)
			}
		}
		return nil
	})
	return ids, err
}

type memUnits struct{ db *memDB }

func (r memUnits) CreateBatch(_ context.Context, tx pgx.Tx, generationID uuid.UUID, total int) error {
	return r.db.write(tx, func(st *memState) error {
		for i := 0; i < total; i++ {
			st.units[unitKey{generationID, i}] = &models.Unit{GenerationID: generationID, Index: i, Status: models.UnitPending}
		}
		return nil
	})
}

func (r memUnits) Get(_ context.Context, q database.DBTX, generationID uuid.UUID, index int) (*models.Unit, error) {
	var out *models.Unit
	err := r.db.read(q, func(st *memState) error {
		u, ok := st.units[unitKey{generationID, index}]
		if !ok {
			return models.ErrNotFound
		}
		cp := *u
		out = &cp
		return nil
	})
	return out, err
}

func (r memUnits) Resolve(_ context.Context, tx pgx.Tx, generationID uuid.UUID, index int, status string, errMsg *string) (bool, error) {
	moved := false
	err := r.db.write(tx, func(st *memState) error {
		u, ok := st.units[unitKey{generationID, index}]
		if ok && u.Status == models.UnitPending {
			u.Status, u.ErrorMessage = status, errMsg
			moved = true
		}
		return nil
	})
	return moved, err
}

func (r memUnits) Tally(_ context.Context, q database.DBTX, generationID uuid.UUID) (models.UnitTally, error) {
	var t models.UnitTally
	err := r.db.read(q, func(st *memState) error {
		for k, u := range st.units {
			if k.gen != generationID {
				continue
			}
			t.Total++
			switch u.Status {
			case models.UnitSucceeded:
				t.Succeeded++
			case models.UnitFailed:
				t.Failed++
			}
		}
		return nil
	})
	return t, err
}

func (r memUnits) ListAbandoned(_ context.Context, q database.DBTX, olderThan time.Time, limit int) ([]*models.Unit, error) {
	var out []*models.Unit
	err := r.db.read(q, func(st *memState) error {
		for k := range st.deadJobs {
			u, ok := st.units[k]
			if !ok || u.Status != models.UnitPending || u.UpdatedAt.After(olderThan) {
				continue
			}
			if g, ok := st.gens[k.gen]; !ok || g.Lifecycle == models.LifecyclePurged {
				continue
			}
			cp := *u
			out = append(out, &cp)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Unit) int { return a.Index - b.Index })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type fakeQueue struct {
	db  *memDB
	err error
}

func (q *fakeQueue) EnqueueGenerationTx(_ context.Context, tx pgx.Tx, jobs []execution.GenerateJobArgs) error {
	if q.err != nil {
		return q.err
	}
	return q.db.write(tx, func(st *memState) error {
		st.jobs = append(st.jobs, jobs...)
		return nil
	})
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) count(typ string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == typ {
			c++
		}
	}
	return c
}

type memObjects struct {
	mu       sync.Mutex
	deleted  []string
	prefixes []string
}

func (o *memObjects) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	return "https://cdn.test/" + key, nil
}
func (o *memObjects) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, key)
	return nil
}
func (o *memObjects) DeletePrefix(_ context.Context, prefix string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prefixes = append(o.prefixes, prefix)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fixture wires the real services onto memDB.
type fixture struct {
	db       *memDB
	queue    *fakeQueue
	notifier *recordingNotifier
	objects  *memObjects
	metrics  *metrics.Metrics
	clock    *fakeClock
	gen      *GenerationService
	life     *LifecycleService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newMemDB()
	stores := Stores{
		Generations: memGenerations{db},
		Images:      memImages{db},
		Units:       memUnits{db},
	}
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	f := &fixture{
		db:       db,
		queue:    &fakeQueue{db: db},
		notifier: &recordingNotifier{},
		objects:  &memObjects{},
		metrics:  metrics.New(prometheus.NewRegistry()),
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	opts := Options{Notifier: f.notifier, Metrics: f.metrics, Now: f.clock.Now}
	l := ledger.NewService(memLedgerRepo{db})
	f.gen = NewGenerationService(db, stores, l, f.queue, v, opts)
	f.life = NewLifecycleService(db, stores, l, f.objects, opts)
	return f
}

func (f *fixture) addAccount(balance models.Credits) uuid.UUID {
	id := uuid.New()
	f.db.write(nil, func(st *memState) error {
		st.balances[id] = balance
		return nil
	})
	return id
}

// dropJob simulates river discarding a unit's job without an outcome.
func (f *fixture) dropJob(generationID uuid.UUID, index int) {
	f.db.write(nil, func(st *memState) error {
		st.deadJobs[unitKey{generationID, index}] = true
		return nil
	})
}

func (f *fixture) setBalance(id uuid.UUID, balance models.Credits) {
	f.db.write(nil, func(st *memState) error {
		st.balances[id] = balance
		return nil
	})
}

func (f *fixture) balance(id uuid.UUID) models.Credits {
	return f.db.snapshot().balances[id]
}

func (f *fixture) generation(t *testing.T, id uuid.UUID) *models.Generation {
	t.Helper()
	g, ok := f.db.snapshot().gens[id]
	if !ok {
		t.Fatalf("generation %s missing", id)
	}
	return g
}

func (f *fixture) startPhoto(t *testing.T, account uuid.UUID, count int) *models.Generation {
	t.Helper()
	g, err := f.gen.Start(context.Background(), account, models.KindPhoto, photoParams(count))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return g
}

func (f *fixture) succeed(t *testing.T, g *models.Generation, index int) {
	t.Helper()
	ctx := context.Background()
	if err := f.gen.MarkRunning(ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.gen.MarkDownloading(ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	key := unitKeyFor(g.ID, index)
	if err := f.gen.RecordUnitSuccess(ctx, execution.UnitOutput{
		GenerationID: g.ID,
		Index:        index,
		URL:          "https://cdn.test/" + key,
		StorageKey:   key,
	}); err != nil {
		t.Fatalf("RecordUnitSuccess(%d): %v", index, err)
	}
}

// completedPhoto returns a COMPLETED photo generation with n live images.
func (f *fixture) completedPhoto(t *testing.T, account uuid.UUID, n int) (*models.Generation, []*models.Image) {
	t.Helper()
	g := f.startPhoto(t, account, n)
	for i := 0; i < n; i++ {
		f.succeed(t, g, i)
	}
	images, err := memImages{f.db}.ListByGeneration(context.Background(), f.db, g.ID)
	if err != nil || len(images) != n {
		t.Fatalf("images = %d, %v; want %d", len(images), err, n)
	}
	return g, images
}

func (f *fixture) ledgerEntries(account uuid.UUID, typ string) []models.CreditEntry {
	var out []models.CreditEntry
	for _, e := range f.db.snapshot().entries {
		if e.AccountID == account && e.EntryType == typ {
			out = append(out, e)
		}
	}
	return out
}
