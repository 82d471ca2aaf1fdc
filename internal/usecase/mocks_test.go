package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"content-pipeline-orchestrator/internal/domain"
	"content-pipeline-orchestrator/internal/domain/model"
	"content-pipeline-orchestrator/internal/domain/ports/adapter"
	"content-pipeline-orchestrator/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// nopTxManager runs the function without a real transaction.
type nopTxManager struct{}

func (nopTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// memJobRepo is a small in-memory implementation used by unit tests.
type memJobRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.Job)}
}

func (m *memJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) SetStatus(ctx context.Context, tx repository.Tx, id string, to model.JobStatus, from ...model.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, f := range from {
		if j.Status == f {
			j.Status = to
			if to == model.JobStatusRunning && j.StartedAt == nil {
				at := time.Now()
				j.StartedAt = &at
			}
			return nil
		}
	}
	return domain.ErrJobNotRunnable
}

func (m *memJobRepo) SetAwaitingApproval(ctx context.Context, tx repository.Tx, id string, awaiting bool, stageKey model.StageKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.AwaitingApproval = awaiting
	j.ApprovalStageKey = string(stageKey)
	return nil
}

func (m *memJobRepo) SetPendingArtifact(ctx context.Context, tx repository.Tx, id, artifactRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.PendingArtifactRef = artifactRef
	return nil
}

func (m *memJobRepo) ApplyCounts(ctx context.Context, tx repository.Tx, id string, c repository.JobCounts, finishedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.TotalCount = c.Total
	j.CompletedCount = c.Completed
	j.ErrorCount = c.Errors
	j.CurrentStageIndex = c.CurrentStageIndex
	if finishedAt != nil {
		j.FinishedAt = finishedAt
	}
	return nil
}

// memItemRepo mirrors the conditional-update semantics of the postgres
// implementation closely enough for the tick tests to be meaningful.
type memItemRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Item
}

func newMemItemRepo() *memItemRepo {
	return &memItemRepo{store: make(map[string]*model.Item)}
}

func (m *memItemRepo) CreateBatch(ctx context.Context, tx repository.Tx, items []*model.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		cp := *it
		m.store[it.ID] = &cp
	}
	return nil
}

func (m *memItemRepo) ListByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Item
	for _, it := range m.store {
		if it.JobID == jobID {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *memItemRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (m *memItemRepo) ListRunnable(ctx context.Context, tx repository.Tx, jobID string, staleBefore time.Time, limit int) ([]*model.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Item
	for _, it := range m.store {
		if it.JobID != jobID {
			continue
		}
		runnable := it.Status == model.ItemStatusQueued ||
			(it.Status == model.ItemStatusRunning && it.UpdatedAt.Before(staleBefore))
		if runnable {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memItemRepo) MarkRunning(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.store[id]
	if !ok || it.Status == model.ItemStatusDone {
		return domain.ErrNotFound
	}
	it.Status = model.ItemStatusRunning
	it.Attempts++
	if it.StartedAt == nil {
		cp := at
		it.StartedAt = &cp
	}
	it.UpdatedAt = at
	return nil
}

func (m *memItemRepo) MarkResult(ctx context.Context, tx repository.Tx, id string, status model.ItemStatus, outputRef, lastError string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	it.Status = status
	it.OutputRef = outputRef
	it.LastError = lastError
	cp := at
	it.FinishedAt = &cp
	it.UpdatedAt = at
	return nil
}

func (m *memItemRepo) Requeue(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.store[id]
	if !ok || it.Status == model.ItemStatusDone {
		return domain.ErrNotFound
	}
	it.Status = model.ItemStatusQueued
	it.Attempts = 0
	it.LastError = ""
	it.FinishedAt = nil
	it.UpdatedAt = time.Now()
	return nil
}

func (m *memItemRepo) ListStaleRunning(ctx context.Context, tx repository.Tx, staleBefore time.Time, limit int) ([]*model.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Item
	for _, it := range m.store {
		if it.Status == model.ItemStatusRunning && it.UpdatedAt.Before(staleBefore) {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memItemRepo) ResetStale(ctx context.Context, tx repository.Tx, id string, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.store[id]
	if !ok || it.Status != model.ItemStatusRunning || !it.UpdatedAt.Before(staleBefore) {
		return false, nil
	}
	it.Status = model.ItemStatusQueued
	it.UpdatedAt = time.Now()
	return true, nil
}

func (m *memItemRepo) Counts(ctx context.Context, tx repository.Tx, jobID string) (repository.JobCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c repository.JobCounts
	terminal := 0
	minPending := -1
	for _, it := range m.store {
		if it.JobID != jobID {
			continue
		}
		c.Total++
		switch it.Status {
		case model.ItemStatusDone:
			c.Completed++
		case model.ItemStatusFailed, model.ItemStatusFailedValidation, model.ItemStatusNeedsRegen:
			c.Errors++
		}
		if it.Status.Terminal() {
			terminal++
		}
		if it.Status != model.ItemStatusDone && it.Status != model.ItemStatusSkipped {
			if minPending < 0 || it.Index < minPending {
				minPending = it.Index
			}
		}
	}
	if minPending < 0 {
		c.CurrentStageIndex = c.Total
	} else {
		c.CurrentStageIndex = minPending
	}
	c.AllTerminal = c.Total > 0 && terminal == c.Total
	return c, nil
}

// memApprovalRepo keeps checkpoints ordered by request time.
type memApprovalRepo struct {
	mu    sync.RWMutex
	store []*model.ApprovalCheckpoint
}

func newMemApprovalRepo() *memApprovalRepo {
	return &memApprovalRepo{}
}

func (m *memApprovalRepo) Save(ctx context.Context, tx repository.Tx, cp *model.ApprovalCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.store {
		if existing.ID == cp.ID {
			c := *cp
			m.store[i] = &c
			return nil
		}
	}
	c := *cp
	m.store = append(m.store, &c)
	return nil
}

func (m *memApprovalRepo) FindOpen(ctx context.Context, tx repository.Tx, jobID string, stage model.StageKey) (*model.ApprovalCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.store) - 1; i >= 0; i-- {
		cp := m.store[i]
		if cp.JobID == jobID && cp.StageKey == stage && !cp.Decided() {
			c := *cp
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memApprovalRepo) FindLatest(ctx context.Context, tx repository.Tx, jobID string, stage model.StageKey) (*model.ApprovalCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.store) - 1; i >= 0; i-- {
		cp := m.store[i]
		if cp.JobID == jobID && cp.StageKey == stage {
			c := *cp
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memApprovalRepo) ListByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.ApprovalCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ApprovalCheckpoint
	for _, cp := range m.store {
		if cp.JobID == jobID {
			c := *cp
			out = append(out, &c)
		}
	}
	return out, nil
}

// memChunkRepo stores chunk groups keyed by document and version.
type memChunkRepo struct {
	mu    sync.RWMutex
	store map[string][]model.Chunk
}

func newMemChunkRepo() *memChunkRepo {
	return &memChunkRepo{store: make(map[string][]model.Chunk)}
}

func groupKey(documentID, versionID string) string {
	return documentID + "|" + versionID
}

func (m *memChunkRepo) SaveGroup(ctx context.Context, tx repository.Tx, group *model.ChunkGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.Chunk, len(group.Chunks))
	copy(cp, group.Chunks)
	m.store[groupKey(group.DocumentID, group.VersionID)] = cp
	return nil
}

func (m *memChunkRepo) FindGroup(ctx context.Context, tx repository.Tx, documentID, versionID string) (*model.ChunkGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunks, ok := m.store[groupKey(documentID, versionID)]
	if !ok || len(chunks) == 0 {
		return nil, domain.ErrNotFound
	}
	cp := make([]model.Chunk, len(chunks))
	copy(cp, chunks)
	return &model.ChunkGroup{DocumentID: documentID, VersionID: versionID, Chunks: cp}, nil
}

func (m *memChunkRepo) MarkStatus(ctx context.Context, tx repository.Tx, documentID, versionID string, index int, status model.ChunkStatus, lastError string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunks, ok := m.store[groupKey(documentID, versionID)]
	if !ok {
		return domain.ErrNotFound
	}
	for i := range chunks {
		if chunks[i].Index == index {
			if status == model.ChunkStatusRunning {
				chunks[i].Attempts++
			}
			chunks[i].Status = status
			chunks[i].LastError = lastError
			chunks[i].UpdatedAt = at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memChunkRepo) RequeueIndices(ctx context.Context, tx repository.Tx, documentID, versionID string, indices []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunks, ok := m.store[groupKey(documentID, versionID)]
	if !ok {
		return domain.ErrNotFound
	}
	want := make(map[int]bool, len(indices))
	for _, i := range indices {
		want[i] = true
	}
	for i := range chunks {
		if want[chunks[i].Index] {
			chunks[i].Status = model.ChunkStatusQueued
			chunks[i].Attempts = 0
			chunks[i].LastError = ""
		}
	}
	return nil
}

// memClaimStore implements SetNX-with-TTL semantics against an
// injectable clock so tests can fast-forward lease expiry.
type memClaimStore struct {
	mu     sync.Mutex
	now    func() time.Time
	seq    int
	leases map[string]memLease
}

type memLease struct {
	token  string
	expiry time.Time
}

func newMemClaimStore() *memClaimStore {
	return &memClaimStore{now: time.Now, leases: make(map[string]memLease)}
}

func (m *memClaimStore) Acquire(ctx context.Context, unitID string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[unitID]; ok && m.now().Before(l.expiry) {
		return "", false, nil
	}
	m.seq++
	token := fmt.Sprintf("tok-%d", m.seq)
	m.leases[unitID] = memLease{token: token, expiry: m.now().Add(ttl)}
	return token, true, nil
}

func (m *memClaimStore) Release(ctx context.Context, unitID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[unitID]; ok && l.token == token && m.now().Before(l.expiry) {
		delete(m.leases, unitID)
		return nil
	}
	return domain.ErrClaimHeld
}

// scriptGen is a scriptable generation adapter.
type scriptGen struct {
	mu           sync.Mutex
	calls        int
	GenerateFunc func(ctx context.Context, req adapter.GenerationRequest) (adapter.GenerationResult, error)
}

func (g *scriptGen) Name() string { return "script" }

func (g *scriptGen) Generate(ctx context.Context, req adapter.GenerationRequest) (adapter.GenerationResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.GenerateFunc != nil {
		return g.GenerateFunc(ctx, req)
	}
	return adapter.GenerationResult{Content: "generated: " + req.Prompt}, nil
}

func (g *scriptGen) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
