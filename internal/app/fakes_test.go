package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/coursekeep/coursekeep/internal/ports"
)

// Fakes en mémoire partagés par les tests du paquet.

type fakeAccounts struct {
	mu       sync.Mutex
	byID     map[string]domain.Account
	activeID string
}

func newFakeAccounts(accounts ...domain.Account) *fakeAccounts {
	f := &fakeAccounts{byID: map[string]domain.Account{}}
	for _, a := range accounts {
		f.byID[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) Get(ctx context.Context, platformID, accountID string) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[accountID]
	if !ok || a.PlatformID != platformID {
		return domain.Account{}, ports.ErrNotFound
	}
	return a, nil
}

func (f *fakeAccounts) GetByID(ctx context.Context, accountID string) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[accountID]
	if !ok {
		return domain.Account{}, ports.ErrNotFound
	}
	return a, nil
}

func (f *fakeAccounts) List(ctx context.Context, platformID string) ([]domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Account{}
	for _, a := range f.byID {
		if a.PlatformID == platformID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAccounts) Upsert(ctx context.Context, account domain.Account) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[account.ID] = account
	return account, nil
}

func (f *fakeAccounts) Invalidate(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[accountID]
	if !ok {
		return ports.ErrNotFound
	}
	a.Valid = false
	f.byID[accountID] = a
	return nil
}

func (f *fakeAccounts) Delete(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, accountID)
	if f.activeID == accountID {
		f.activeID = ""
	}
	return nil
}

func (f *fakeAccounts) Activate(ctx context.Context, platformID, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[accountID]
	if !ok || a.PlatformID != platformID {
		return ports.ErrNotFound
	}
	f.activeID = accountID
	return nil
}

func (f *fakeAccounts) Active(ctx context.Context) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activeID == "" {
		return domain.Account{}, ports.ErrNotFound
	}
	return f.byID[f.activeID], nil
}

func (f *fakeAccounts) Deactivate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeID = ""
	return nil
}

// step est un élément d'énumération : une valeur ou une erreur.
type step[T any] struct {
	v   T
	err error
}

type stepCursor[T any] struct {
	steps []step[T]
	pos   int
}

func (c *stepCursor[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if c.pos >= len(c.steps) {
		return zero, ports.ErrEnd
	}
	s := c.steps[c.pos]
	c.pos++
	if s.err != nil {
		return zero, s.err
	}
	return s.v, nil
}

func okSteps[T any](items ...T) []step[T] {
	out := make([]step[T], 0, len(items))
	for _, it := range items {
		out = append(out, step[T]{v: it})
	}
	return out
}

type fakeAdapter struct {
	platform domain.Platform

	authFn    func(ctx context.Context, creds ports.Credentials) (ports.Token, error)
	refreshFn func(ctx context.Context, account domain.Account) (ports.Token, error)
	resolveFn func(ctx context.Context, account domain.Account, page domain.Page) ([]domain.MediaAsset, error)

	productSteps func() []step[domain.Product]
	moduleSteps  func(product domain.Product) []step[domain.Module]
	pageSteps    func(module domain.Module) []step[domain.Page]

	mu           sync.Mutex
	refreshCalls int
	resolveCalls int
}

func (a *fakeAdapter) Platform() domain.Platform { return a.platform }

func (a *fakeAdapter) Authenticate(ctx context.Context, creds ports.Credentials) (ports.Token, error) {
	if a.authFn != nil {
		return a.authFn(ctx, creds)
	}
	return ports.Token{Value: "tok"}, nil
}

func (a *fakeAdapter) RefreshToken(ctx context.Context, account domain.Account) (ports.Token, error) {
	a.mu.Lock()
	a.refreshCalls++
	a.mu.Unlock()
	if a.refreshFn != nil {
		return a.refreshFn(ctx, account)
	}
	return ports.Token{Value: "refreshed", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (a *fakeAdapter) RefreshCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshCalls
}

func (a *fakeAdapter) Products(ctx context.Context, account domain.Account) ports.Cursor[domain.Product] {
	if a.productSteps == nil {
		return &stepCursor[domain.Product]{}
	}
	return &stepCursor[domain.Product]{steps: a.productSteps()}
}

func (a *fakeAdapter) Modules(ctx context.Context, account domain.Account, product domain.Product) ports.Cursor[domain.Module] {
	if a.moduleSteps == nil {
		return &stepCursor[domain.Module]{}
	}
	return &stepCursor[domain.Module]{steps: a.moduleSteps(product)}
}

func (a *fakeAdapter) Pages(ctx context.Context, account domain.Account, module domain.Module) ports.Cursor[domain.Page] {
	if a.pageSteps == nil {
		return &stepCursor[domain.Page]{}
	}
	return &stepCursor[domain.Page]{steps: a.pageSteps(module)}
}

func (a *fakeAdapter) ResolveMedia(ctx context.Context, account domain.Account, page domain.Page) ([]domain.MediaAsset, error) {
	a.mu.Lock()
	a.resolveCalls++
	a.mu.Unlock()
	if a.resolveFn != nil {
		return a.resolveFn(ctx, account, page)
	}
	return nil, nil
}

type fakeRegistry struct {
	adapters map[string]ports.Adapter
}

func newFakeRegistry(adapters ...ports.Adapter) *fakeRegistry {
	r := &fakeRegistry{adapters: map[string]ports.Adapter{}}
	for _, a := range adapters {
		r.adapters[a.Platform().ID] = a
	}
	return r
}

func (r *fakeRegistry) Adapter(platformID string) (ports.Adapter, error) {
	a, ok := r.adapters[platformID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return a, nil
}

func (r *fakeRegistry) Platforms() []domain.Platform {
	out := []domain.Platform{}
	for _, a := range r.adapters {
		out = append(out, a.Platform())
	}
	return out
}

// fakeJobs reproduit la sémantique du repo sqlite : CAS sur UpdateState,
// refus des doublons en vol, journal append-only.
type fakeJobs struct {
	mu     sync.Mutex
	byID   map[string]domain.DownloadJob
	events map[string][]domain.JobEvent
	order  []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{byID: map[string]domain.DownloadJob{}, events: map[string][]domain.JobEvent{}}
}

func (f *fakeJobs) appendEventLocked(job domain.DownloadJob, detail string) {
	seq := int64(len(f.events[job.ID]) + 1)
	f.events[job.ID] = append(f.events[job.ID], domain.JobEvent{
		JobID: job.ID, Seq: seq, State: job.State, Detail: detail, OccurredAt: time.Now().UTC(),
	})
}

func (f *fakeJobs) Create(ctx context.Context, job domain.DownloadJob) (domain.DownloadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.AccountID == job.AccountID && existing.PageID == job.PageID && !existing.State.IsTerminal() {
			return domain.DownloadJob{}, fmt.Errorf("page %s already downloading: %w", job.PageID, ports.ErrConflict)
		}
	}
	f.byID[job.ID] = job
	f.order = append(f.order, job.ID)
	f.appendEventLocked(job, "created")
	return job, nil
}

func (f *fakeJobs) Get(ctx context.Context, id string) (domain.DownloadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.byID[id]
	if !ok {
		return domain.DownloadJob{}, ports.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobs) GetMany(ctx context.Context, ids []string) ([]domain.DownloadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.DownloadJob{}
	for _, id := range ids {
		if j, ok := f.byID[id]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobs) List(ctx context.Context, limit int) ([]domain.DownloadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.DownloadJob{}
	for i := len(f.order) - 1; i >= 0; i-- {
		out = append(out, f.byID[f.order[i]])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeJobs) ClaimNextQueued(ctx context.Context) (domain.DownloadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		j := f.byID[id]
		if j.State == domain.JobQueued {
			j.State = domain.JobRunning
			j.UpdatedAt = time.Now().UTC()
			f.byID[id] = j
			f.appendEventLocked(j, "claimed")
			return j, nil
		}
	}
	return domain.DownloadJob{}, ports.ErrNotFound
}

func (f *fakeJobs) CountActiveForPage(ctx context.Context, accountID, pageID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.byID {
		if j.AccountID == accountID && j.PageID == pageID && !j.State.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobs) UpdateState(ctx context.Context, id string, expected, next domain.JobState) (domain.DownloadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.byID[id]
	if !ok {
		return domain.DownloadJob{}, ports.ErrNotFound
	}
	if !domain.CanTransition(expected, next) {
		return domain.DownloadJob{}, domain.ErrInvalidTransition
	}
	if j.State != expected {
		// état périmé : même contrat que le repo sqlite
		return domain.DownloadJob{}, ports.ErrNotFound
	}
	if j.State != next {
		j.State = next
		j.UpdatedAt = time.Now().UTC()
		f.byID[id] = j
		f.appendEventLocked(j, "")
	}
	return j, nil
}

func (f *fakeJobs) UpdateError(ctx context.Context, id string, code, message string) (domain.DownloadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.byID[id]
	if !ok {
		return domain.DownloadJob{}, ports.ErrNotFound
	}
	j.ErrorCode = code
	j.ErrorMessage = message
	f.byID[id] = j
	return j, nil
}

func (f *fakeJobs) RecordAttempt(ctx context.Context, id string) (domain.DownloadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.byID[id]
	if !ok {
		return domain.DownloadJob{}, ports.ErrNotFound
	}
	j.Attempts++
	f.byID[id] = j
	return j, nil
}

func (f *fakeJobs) SetOutputPath(ctx context.Context, id string, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.byID[id]
	if !ok {
		return ports.ErrNotFound
	}
	j.OutputPath = path
	f.byID[id] = j
	return nil
}

func (f *fakeJobs) ListEvents(ctx context.Context, jobID string) ([]domain.JobEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.JobEvent(nil), f.events[jobID]...), nil
}
