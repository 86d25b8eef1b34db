package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/coursekeep/coursekeep/internal/ports"
	"github.com/rs/zerolog"
)

type WorkerOptions struct {
	PollInterval time.Duration
	Limiter      *AccountLimiter
	// SettingsFunc relit les settings au claim, pour que les changements à
	// chaud s'appliquent aux jobs suivants.
	SettingsFunc func(ctx context.Context) (domain.Settings, error)
}

func DefaultWorkerOptions() WorkerOptions {
	return WorkerOptions{PollInterval: 750 * time.Millisecond}
}

// WorkerDeps regroupe les dépendances partagées par tous les workers.
type WorkerDeps struct {
	Jobs     ports.JobRepository
	Accounts *AccountService
	Registry ports.AdapterRegistry
	Pipeline *Pipeline
	Bus      ports.EventBus
}

type Worker struct {
	logger zerolog.Logger
	deps   WorkerDeps
	opts   WorkerOptions
}

func NewWorker(logger zerolog.Logger, deps WorkerDeps, opts WorkerOptions) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultWorkerOptions().PollInterval
	}
	return &Worker{logger: logger, deps: deps, opts: opts}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.deps.Jobs.ClaimNextQueued(ctx)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				w.logger.Error().Err(err).Msg("claim next job failed")
				continue
			}
			w.execute(ctx, job)
		}
	}
}

func (w *Worker) execute(ctx context.Context, job domain.DownloadJob) {
	w.logger.Info().Str("job_id", job.ID).Str("page_id", job.PageID).Msg("job claimed")
	PublishJobEvent(w.deps.Bus, "job.started", job)

	isCanceled := func() (bool, error) {
		current, err := w.deps.Jobs.Get(ctx, job.ID)
		if err != nil {
			return false, err
		}
		return current.State == domain.JobCanceled, nil
	}

	var params jobParams
	if err := json.Unmarshal(job.ParamsJSON, &params); err != nil {
		w.fail(ctx, job, &CodedError{Code: CodeInvalidSelection, Message: "corrupt job params", Permanent: true, Err: err})
		return
	}

	settings := domain.DefaultSettings()
	if w.opts.SettingsFunc != nil {
		if s, err := w.opts.SettingsFunc(ctx); err == nil {
			settings = s
		}
	}

	account, err := w.deps.Accounts.Get(ctx, job.AccountID)
	if err == nil {
		account, err = w.deps.Accounts.EnsureFresh(ctx, account)
	}
	if err != nil {
		w.fail(ctx, job, err)
		return
	}

	adapter, err := w.deps.Registry.Adapter(account.PlatformID)
	if err != nil {
		w.fail(ctx, job, err)
		return
	}

	outDir := outputDir(settings.DownloadRoot, params, job.OutputName)
	_ = w.deps.Jobs.SetOutputPath(ctx, job.ID, outDir)

	for attempt := 0; ; attempt++ {
		current, err := w.deps.Jobs.RecordAttempt(ctx, job.ID)
		if err != nil {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("record attempt failed")
			return
		}
		job = current

		err = w.runOnce(ctx, settings, account, adapter, params, job, outDir, isCanceled)
		if err == nil {
			if canceled, cerr := isCanceled(); cerr == nil && canceled {
				w.logger.Info().Str("job_id", job.ID).Msg("job canceled")
				return
			}
			finished, err := w.deps.Jobs.UpdateState(ctx, job.ID, domain.JobRunning, domain.JobSucceeded)
			if err != nil {
				// CAS rejeté : l'état a bougé sous nos pieds (annulation).
				w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to mark job succeeded")
				return
			}
			PublishJobEvent(w.deps.Bus, "job.succeeded", finished)
			return
		}

		if errors.Is(err, ErrCanceled) {
			w.logger.Info().Str("job_id", job.ID).Msg("job canceled")
			return
		}

		if !Retryable(err) || attempt >= settings.RetryLimit {
			w.fail(ctx, job, err)
			return
		}

		retrying, uerr := w.deps.Jobs.UpdateState(ctx, job.ID, domain.JobRunning, domain.JobRetrying)
		if uerr != nil {
			// État périmé (annulation concurrente) : on abandonne.
			w.logger.Warn().Err(uerr).Str("job_id", job.ID).Msg("failed to mark job retrying")
			return
		}
		PublishJobEvent(w.deps.Bus, "job.retrying", retrying)

		delay := backoffDelay(settings.RetryBaseDelay, attempt)
		w.logger.Warn().Err(err).Str("job_id", job.ID).Dur("delay", delay).Int("attempt", attempt+1).Msg("transient failure, backing off")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if canceled, cerr := isCanceled(); cerr != nil || canceled {
			w.logger.Info().Str("job_id", job.ID).Msg("job canceled during backoff")
			return
		}
		if _, err := w.deps.Jobs.UpdateState(ctx, job.ID, domain.JobRetrying, domain.JobRunning); err != nil {
			w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to resume job")
			return
		}
	}
}

// runOnce est une tentative complète : résolution des assets puis pipeline
// pour chacun. Le limiteur par compte est traversé avant chaque requête
// plateforme.
func (w *Worker) runOnce(ctx context.Context, settings domain.Settings, account domain.Account, adapter ports.Adapter, params jobParams, job domain.DownloadJob, outDir string, isCanceled func() (bool, error)) error {
	if w.opts.Limiter != nil {
		if err := w.opts.Limiter.Wait(ctx, account.ID); err != nil {
			return err
		}
	}

	assets, err := adapter.ResolveMedia(ctx, account, params.Page)
	if err != nil {
		if _, ok := Coded(err); ok {
			return err
		}
		return &CodedError{Code: CodeFetchFailed, Message: "resolve media", PlatformID: account.PlatformID, AccountID: account.ID, PageID: params.Page.ID, Err: err}
	}

	selected := filterAssets(assets, settings, params.AssetKinds)
	if len(selected) == 0 {
		return &CodedError{Code: CodeInvalidSelection, Message: "no downloadable asset matches the filters", Permanent: true, PageID: params.Page.ID}
	}

	env := PipelineEnv{Settings: settings, Token: account.Token, IsCanceled: isCanceled}
	for _, asset := range selected {
		if w.opts.Limiter != nil {
			if err := w.opts.Limiter.Wait(ctx, account.ID); err != nil {
				return err
			}
		}
		dest := filepath.Join(outDir, assetFilename(asset, job.OutputName))
		if err := w.deps.Pipeline.Process(ctx, env, asset, dest); err != nil {
			if !Retryable(err) {
				// pas de reprise possible : on ne laisse pas traîner le .part
				_ = os.Remove(dest + ".part")
			}
			if ce, ok := Coded(err); ok {
				ce.PlatformID = account.PlatformID
				ce.AccountID = account.ID
				ce.PageID = params.Page.ID
			}
			return err
		}
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, job domain.DownloadJob, cause error) {
	code := CodeFetchFailed
	if ce, ok := Coded(cause); ok && ce.Code != "" {
		code = ce.Code
	}
	if _, err := w.deps.Jobs.UpdateError(ctx, job.ID, code, cause.Error()); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("record job error failed")
	}
	failed, err := w.deps.Jobs.UpdateState(ctx, job.ID, domain.JobRunning, domain.JobFailed)
	if err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to mark job failed")
		return
	}
	w.logger.Error().Err(cause).Str("job_id", job.ID).Str("code", code).Msg("job failed")
	PublishJobEvent(w.deps.Bus, "job.failed", failed)
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(attempt)
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// outputDir construit racine/cours/module/leçon en sautant les niveaux
// absents.
func outputDir(root string, params jobParams, outputName string) string {
	parts := []string{root}
	if params.ProductName != "" {
		parts = append(parts, params.ProductName)
	}
	if params.ModuleName != "" {
		parts = append(parts, params.ModuleName)
	}
	parts = append(parts, outputName)
	return filepath.Join(parts...)
}

func filterAssets(assets []domain.MediaAsset, settings domain.Settings, kinds []domain.MediaKind) []domain.MediaAsset {
	wanted := func(k domain.MediaKind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, w := range kinds {
			if w == k {
				return true
			}
		}
		return false
	}

	out := make([]domain.MediaAsset, 0, len(assets))
	for _, a := range assets {
		if !settings.MediaKindAllowed(a.Kind) || !wanted(a.Kind) {
			continue
		}
		if !settings.DRMKindAllowed(a.DRM) {
			continue
		}
		if a.Kind == domain.MediaAttachment && len(settings.AllowedExtensions) > 0 {
			ext := filepath.Ext(a.Filename)
			ok := false
			for _, allowed := range settings.AllowedExtensions {
				if ext == allowed {
					ok = true
					break
				}
			}
			if !ok {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

var reExt = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,8}$`)

// assetFilename borne le nom renvoyé par la plateforme à un seul composant
// de chemin : un Filename hostile ("../../x") ne doit jamais sortir du
// répertoire de destination.
func assetFilename(asset domain.MediaAsset, outputName string) string {
	base := filepath.Base(asset.Filename)
	ext := filepath.Ext(base)
	if !reExt.MatchString(ext) {
		ext = ""
	}

	if asset.Kind == domain.MediaAttachment && asset.Filename != "" {
		stem := SanitizeName(strings.TrimSuffix(base, filepath.Ext(base)), asset.ID, 0)
		if stem == "" {
			stem = outputName
		}
		return stem + ext
	}

	if ext == "" {
		switch asset.Kind {
		case domain.MediaAudio:
			ext = ".m4a"
		default:
			ext = ".mp4"
		}
	}
	if asset.ID != "" {
		return fmt.Sprintf("%s-%s%s", outputName, asset.ID, ext)
	}
	return outputName + ext
}
