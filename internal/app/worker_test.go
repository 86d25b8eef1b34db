package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/coursekeep/coursekeep/internal/ports"
)

func workerSettings(t *testing.T) domain.Settings {
	t.Helper()
	s := domain.DefaultSettings()
	s.DownloadRoot = t.TempDir()
	s.RetryLimit = 1
	s.RetryBaseDelay = time.Millisecond
	s.UseSystemTools = false
	return s
}

func newTestWorker(t *testing.T, jobs *fakeJobs, adapter *fakeAdapter, settings domain.Settings) *Worker {
	t.Helper()
	account := domain.Account{ID: "a1", PlatformID: adapter.platform.ID, Token: "tok", Valid: true}
	accounts := NewAccountService(newFakeAccounts(account), newFakeRegistry(adapter))
	deps := WorkerDeps{
		Jobs:     jobs,
		Accounts: accounts,
		Registry: newFakeRegistry(adapter),
		Pipeline: NewPipeline(zerolog.Nop()),
	}
	opts := DefaultWorkerOptions()
	opts.SettingsFunc = func(ctx context.Context) (domain.Settings, error) { return settings, nil }
	return NewWorker(zerolog.Nop(), deps, opts)
}

func queueJob(t *testing.T, jobs *fakeJobs, page domain.Page, outputName string) domain.DownloadJob {
	t.Helper()
	params, err := json.Marshal(jobParams{Page: page})
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	now := time.Now().UTC()
	job, err := jobs.Create(context.Background(), domain.DownloadJob{
		ID: "job-" + page.ID, AccountID: "a1", PageID: page.ID,
		OutputName: outputName, State: domain.JobQueued,
		CreatedAt: now, UpdatedAt: now, ParamsJSON: params,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func TestWorker_ExecutesJobToSuccess(t *testing.T) {
	payload := []byte("fake video bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	settings := workerSettings(t)
	adapter := &fakeAdapter{
		platform: domain.Platform{ID: "campus"},
		resolveFn: func(ctx context.Context, account domain.Account, page domain.Page) ([]domain.MediaAsset, error) {
			return []domain.MediaAsset{{ID: "v1", PageID: page.ID, Kind: domain.MediaVideo, DRM: domain.DRMNone, URL: srv.URL + "/v1"}}, nil
		},
	}
	jobs := newFakeJobs()
	w := newTestWorker(t, jobs, adapter, settings)

	queueJob(t, jobs, domain.Page{ID: "p1", Name: "Leçon"}, "lesson")
	claimed, err := jobs.ClaimNextQueued(context.Background())
	if err != nil {
		t.Fatalf("ClaimNextQueued: %v", err)
	}
	w.execute(context.Background(), claimed)

	final, err := jobs.Get(context.Background(), claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.State != domain.JobSucceeded {
		t.Fatalf("expected succeeded, got %s (%s: %s)", final.State, final.ErrorCode, final.ErrorMessage)
	}
	if final.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", final.Attempts)
	}

	out := filepath.Join(settings.DownloadRoot, "lesson", "lesson-v1.mp4")
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("output file missing: %v", err)
	}
	if string(b) != string(payload) {
		t.Fatalf("output content mismatch")
	}
	// Aucun fichier de travail ne traîne.
	if _, err := os.Stat(out + ".part"); !os.IsNotExist(err) {
		t.Fatalf(".part should be gone after success")
	}
}

func TestWorker_NestedOutputPath(t *testing.T) {
	payload := []byte("contenu")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	settings := workerSettings(t)
	adapter := &fakeAdapter{
		platform: domain.Platform{ID: "campus"},
		resolveFn: func(ctx context.Context, account domain.Account, page domain.Page) ([]domain.MediaAsset, error) {
			return []domain.MediaAsset{{ID: "v1", PageID: page.ID, Kind: domain.MediaVideo, DRM: domain.DRMNone, URL: srv.URL + "/v1"}}, nil
		},
	}
	jobs := newFakeJobs()
	w := newTestWorker(t, jobs, adapter, settings)

	params, err := json.Marshal(jobParams{
		Page:        domain.Page{ID: "p1", Name: "Leçon"},
		ProductName: "Go avance",
		ModuleName:  "Intro",
	})
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	now := time.Now().UTC()
	if _, err := jobs.Create(context.Background(), domain.DownloadJob{
		ID: "job-p1", AccountID: "a1", PageID: "p1",
		OutputName: "lesson", State: domain.JobQueued,
		CreatedAt: now, UpdatedAt: now, ParamsJSON: params,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	claimed, _ := jobs.ClaimNextQueued(context.Background())
	w.execute(context.Background(), claimed)

	final, _ := jobs.Get(context.Background(), claimed.ID)
	if final.State != domain.JobSucceeded {
		t.Fatalf("expected succeeded, got %s (%s: %s)", final.State, final.ErrorCode, final.ErrorMessage)
	}

	// L'arborescence cours/module/leçon est respectée sous la racine.
	out := filepath.Join(settings.DownloadRoot, "Go avance", "Intro", "lesson", "lesson-v1.mp4")
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("nested output file missing: %v", err)
	}
	if final.OutputPath != filepath.Join(settings.DownloadRoot, "Go avance", "Intro", "lesson") {
		t.Fatalf("unexpected output path %q", final.OutputPath)
	}
}

func TestAssetFilename_ConfinesPlatformNames(t *testing.T) {
	cases := []struct {
		name  string
		asset domain.MediaAsset
		want  string
	}{
		{
			name:  "attachment traversal",
			asset: domain.MediaAsset{ID: "a1", Kind: domain.MediaAttachment, Filename: "../../../../tmp/evil.sh"},
			want:  "evil.sh",
		},
		{
			name:  "attachment backslashes",
			asset: domain.MediaAsset{ID: "a2", Kind: domain.MediaAttachment, Filename: `..\..\evil.pdf`},
			want:  "evil.pdf",
		},
		{
			name:  "attachment dot-dot only",
			asset: domain.MediaAsset{ID: "a3", Kind: domain.MediaAttachment, Filename: ".."},
			want:  "a3",
		},
		{
			name:  "attachment plain",
			asset: domain.MediaAsset{ID: "a4", Kind: domain.MediaAttachment, Filename: "slides.pdf"},
			want:  "slides.pdf",
		},
		{
			name:  "video hostile extension",
			asset: domain.MediaAsset{ID: "v1", Kind: domain.MediaVideo, Filename: "movie.mp4 --exec"},
			want:  "lesson-v1.mp4",
		},
		{
			name:  "video plain",
			asset: domain.MediaAsset{ID: "v1", Kind: domain.MediaVideo, Filename: "stream.m3u8"},
			want:  "lesson-v1.m3u8",
		},
	}

	root := string(filepath.Separator) + "downloads"
	for _, tc := range cases {
		got := assetFilename(tc.asset, "lesson")
		if got != tc.want {
			t.Errorf("%s: want %q, got %q", tc.name, tc.want, got)
		}
		// Le nom produit reste un composant unique sous le répertoire cible.
		joined := filepath.Join(root, got)
		if filepath.Dir(joined) != root {
			t.Errorf("%s: %q escapes the output directory (%q)", tc.name, got, joined)
		}
	}
}

func TestWorker_RetriesTransientThenFails(t *testing.T) {
	settings := workerSettings(t)
	adapter := &fakeAdapter{
		platform: domain.Platform{ID: "campus"},
		resolveFn: func(ctx context.Context, account domain.Account, page domain.Page) ([]domain.MediaAsset, error) {
			return nil, &CodedError{Code: CodeFetchFailed, Message: "platform 503"}
		},
	}
	jobs := newFakeJobs()
	w := newTestWorker(t, jobs, adapter, settings)

	queueJob(t, jobs, domain.Page{ID: "p1", Name: "Leçon"}, "lesson")
	claimed, _ := jobs.ClaimNextQueued(context.Background())
	w.execute(context.Background(), claimed)

	final, _ := jobs.Get(context.Background(), claimed.ID)
	if final.State != domain.JobFailed {
		t.Fatalf("expected failed, got %s", final.State)
	}
	// RetryLimit=1 : tentative initiale + 1 retry.
	if final.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", final.Attempts)
	}
	if final.ErrorCode != CodeFetchFailed {
		t.Fatalf("expected fetch_failed, got %q", final.ErrorCode)
	}

	// Le journal doit tracer le passage par retrying.
	events, _ := jobs.ListEvents(context.Background(), claimed.ID)
	sawRetrying := false
	for _, e := range events {
		if e.State == domain.JobRetrying {
			sawRetrying = true
		}
	}
	if !sawRetrying {
		t.Fatalf("event log should contain a retrying transition: %+v", events)
	}
}

func TestWorker_PermanentErrorFailsWithoutRetry(t *testing.T) {
	settings := workerSettings(t)
	adapter := &fakeAdapter{
		platform: domain.Platform{ID: "campus"},
		resolveFn: func(ctx context.Context, account domain.Account, page domain.Page) ([]domain.MediaAsset, error) {
			return nil, &CodedError{Code: CodeLicenseDenied, Message: "license denied", Permanent: true}
		},
	}
	jobs := newFakeJobs()
	w := newTestWorker(t, jobs, adapter, settings)

	queueJob(t, jobs, domain.Page{ID: "p1", Name: "Leçon"}, "lesson")
	claimed, _ := jobs.ClaimNextQueued(context.Background())
	w.execute(context.Background(), claimed)

	final, _ := jobs.Get(context.Background(), claimed.ID)
	if final.State != domain.JobFailed {
		t.Fatalf("expected failed, got %s", final.State)
	}
	if final.Attempts != 1 {
		t.Fatalf("permanent failure must not retry, got %d attempts", final.Attempts)
	}
	if final.ErrorCode != CodeLicenseDenied {
		t.Fatalf("expected license_denied, got %q", final.ErrorCode)
	}
}

func TestWorker_NoMatchingAssetIsInvalidSelection(t *testing.T) {
	settings := workerSettings(t)
	// Seul le DRM none est autorisé ; l'unique asset est Widevine.
	settings.AllowedDRMKinds = []domain.DRMKind{domain.DRMNone}
	adapter := &fakeAdapter{
		platform: domain.Platform{ID: "campus"},
		resolveFn: func(ctx context.Context, account domain.Account, page domain.Page) ([]domain.MediaAsset, error) {
			return []domain.MediaAsset{{ID: "v1", Kind: domain.MediaVideo, DRM: domain.DRMWidevine, URL: "http://unused"}}, nil
		},
	}
	jobs := newFakeJobs()
	w := newTestWorker(t, jobs, adapter, settings)

	queueJob(t, jobs, domain.Page{ID: "p1", Name: "Leçon"}, "lesson")
	claimed, _ := jobs.ClaimNextQueued(context.Background())
	w.execute(context.Background(), claimed)

	final, _ := jobs.Get(context.Background(), claimed.ID)
	if final.State != domain.JobFailed || final.ErrorCode != CodeInvalidSelection {
		t.Fatalf("expected failed/invalid_selection, got %s/%q", final.State, final.ErrorCode)
	}
}

func TestWorker_ConcurrentCancelAbandonsJob(t *testing.T) {
	settings := workerSettings(t)
	jobs := newFakeJobs()
	var w *Worker
	adapter := &fakeAdapter{
		platform: domain.Platform{ID: "campus"},
	}
	adapter.resolveFn = func(ctx context.Context, account domain.Account, page domain.Page) ([]domain.MediaAsset, error) {
		// Annulation pendant que le worker résout les médias.
		if _, err := jobs.UpdateState(ctx, "job-p1", domain.JobRunning, domain.JobCanceled); err != nil {
			t.Errorf("cancel during resolve: %v", err)
		}
		return nil, &CodedError{Code: CodeFetchFailed, Message: "transient"}
	}
	w = newTestWorker(t, jobs, adapter, settings)

	queueJob(t, jobs, domain.Page{ID: "p1", Name: "Leçon"}, "lesson")
	claimed, _ := jobs.ClaimNextQueued(context.Background())
	w.execute(context.Background(), claimed)

	final, _ := jobs.Get(context.Background(), claimed.ID)
	if final.State != domain.JobCanceled {
		t.Fatalf("canceled job must stay canceled, got %s", final.State)
	}
}

func TestWorkerPool_RespectsConcurrencyBound(t *testing.T) {
	settings := workerSettings(t)
	jobs := newFakeJobs()

	// Chaque résolution retient le job assez longtemps pour que le pool
	// soit observable en régime plein.
	var cur, peak int32
	adapter := &fakeAdapter{platform: domain.Platform{ID: "campus"}}
	adapter.resolveFn = func(ctx context.Context, account domain.Account, page domain.Page) ([]domain.MediaAsset, error) {
		c := atomic.AddInt32(&cur, 1)
		for {
			m := atomic.LoadInt32(&peak)
			if c <= m || atomic.CompareAndSwapInt32(&peak, m, c) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&cur, -1)
		return nil, &CodedError{Code: CodeInvalidSelection, Message: "rien à résoudre", Permanent: true}
	}

	account := domain.Account{ID: "a1", PlatformID: "campus", Token: "tok", Valid: true}
	deps := WorkerDeps{
		Jobs:     jobs,
		Accounts: NewAccountService(newFakeAccounts(account), newFakeRegistry(adapter)),
		Registry: newFakeRegistry(adapter),
		Pipeline: NewPipeline(zerolog.Nop()),
	}
	opts := DefaultWorkerOptions()
	opts.PollInterval = time.Millisecond
	opts.SettingsFunc = func(ctx context.Context) (domain.Settings, error) { return settings, nil }

	for i := 0; i < 10; i++ {
		queueJob(t, jobs, domain.Page{ID: fmt.Sprintf("p%d", i), Name: "Leçon"}, "lesson")
	}

	pool := NewWorkerPool(context.Background(), zerolog.Nop(), deps, opts)
	defer pool.Close()
	pool.SetCount(3)

	deadline := time.Now().Add(10 * time.Second)
	for {
		all, err := jobs.List(context.Background(), 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		done := 0
		for _, j := range all {
			if j.State == domain.JobFailed {
				done++
			}
		}
		if done == 10 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("jobs did not drain, %d/10 done", done)
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := atomic.LoadInt32(&peak)
	if got == 0 {
		t.Fatalf("no job observed running")
	}
	if got > 3 {
		t.Fatalf("observed %d concurrent jobs, pool bound is 3", got)
	}
}

func TestWorkerPool_SetCount(t *testing.T) {
	settings := workerSettings(t)
	adapter := &fakeAdapter{platform: domain.Platform{ID: "campus"}}
	account := domain.Account{ID: "a1", PlatformID: "campus", Token: "tok", Valid: true}
	deps := WorkerDeps{
		Jobs:     newFakeJobs(),
		Accounts: NewAccountService(newFakeAccounts(account), newFakeRegistry(adapter)),
		Registry: newFakeRegistry(adapter),
		Pipeline: NewPipeline(zerolog.Nop()),
	}
	opts := DefaultWorkerOptions()
	opts.PollInterval = time.Hour // les workers ne doivent rien faire ici
	opts.SettingsFunc = func(ctx context.Context) (domain.Settings, error) { return settings, nil }

	pool := NewWorkerPool(context.Background(), zerolog.Nop(), deps, opts)
	defer pool.Close()

	pool.SetCount(3)
	if pool.Count() != 3 {
		t.Fatalf("expected 3 workers, got %d", pool.Count())
	}
	pool.SetCount(1)
	if pool.Count() != 1 {
		t.Fatalf("expected 1 worker after shrink, got %d", pool.Count())
	}
	// 0 et négatif retombent sur 1.
	pool.SetCount(0)
	if pool.Count() != 1 {
		t.Fatalf("expected floor of 1 worker, got %d", pool.Count())
	}
}

var _ ports.JobRepository = (*fakeJobs)(nil)
var _ ports.AccountRepository = (*fakeAccounts)(nil)
var _ ports.Adapter = (*fakeAdapter)(nil)
var _ ports.AdapterRegistry = (*fakeRegistry)(nil)
