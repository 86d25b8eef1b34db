package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/coursekeep/coursekeep/internal/ports"
	"github.com/rs/xid"
)

// SelectionItem est un élément de la sélection utilisateur : une page, le
// nom de sortie souhaité et le filtre d'assets (vide = tous les types
// autorisés par les settings).
type SelectionItem struct {
	Page       domain.Page        `json:"page"`
	OutputName string             `json:"outputName,omitempty"`
	AssetKinds []domain.MediaKind `json:"assetKinds,omitempty"`

	// Noms du produit et du module, pour l'arborescence de sortie
	// cours/module/leçon. Optionnels.
	ProductName string `json:"productName,omitempty"`
	ModuleName  string `json:"moduleName,omitempty"`
}

// jobParams est le blob persisté avec le job, suffisant pour l'exécuter
// sans ré-énumérer l'arbre.
type jobParams struct {
	Page        domain.Page        `json:"page"`
	AssetKinds  []domain.MediaKind `json:"assetKinds,omitempty"`
	ProductName string             `json:"productName,omitempty"`
	ModuleName  string             `json:"moduleName,omitempty"`
}

type JobDTO struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	PageID       string          `json:"pageId"`
	OutputName   string          `json:"outputName"`
	OutputPath   string          `json:"outputPath,omitempty"`
	State        domain.JobState `json:"state"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	ErrorCode    string          `json:"errorCode,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func ToJobDTO(j domain.DownloadJob) JobDTO {
	return JobDTO{
		ID:         j.ID,
		AccountID:  j.AccountID,
		PageID:     j.PageID,
		OutputName: j.OutputName,
		OutputPath: j.OutputPath,
		State:      j.State,
		Attempts:   j.Attempts,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
		ErrorCode:  j.ErrorCode,
		Error:      j.ErrorMessage,
	}
}

func PublishJobEvent(bus ports.EventBus, topic string, job domain.DownloadJob) {
	if bus == nil {
		return
	}
	b, err := json.Marshal(ToJobDTO(job))
	if err != nil {
		return
	}
	bus.Publish(topic, b)
}

// DownloadService transforme une sélection en jobs et expose le suivi.
type DownloadService struct {
	jobs     ports.JobRepository
	accounts *AccountService
	settings *SettingsService
	bus      ports.EventBus
	now      func() time.Time
}

func NewDownloadService(jobs ports.JobRepository, accounts *AccountService, settings *SettingsService, bus ports.EventBus) *DownloadService {
	return &DownloadService{jobs: jobs, accounts: accounts, settings: settings, bus: bus, now: time.Now}
}

func (s *DownloadService) WithClock(now func() time.Time) *DownloadService {
	s.now = now
	return s
}

// Submit valide la sélection entière avant de créer le moindre job :
//   - page verrouillée → content_locked (jamais d'omission silencieuse) ;
//   - sélection vide ou page sans id → invalid_selection ;
//   - job déjà en vol pour (compte, page) → ErrConflict.
func (s *DownloadService) Submit(ctx context.Context, accountID string, items []SelectionItem) ([]string, error) {
	if len(items) == 0 {
		return nil, &CodedError{Code: CodeInvalidSelection, Message: "empty selection", AccountID: accountID}
	}
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, item := range items {
		if item.Page.ID == "" {
			return nil, &CodedError{Code: CodeInvalidSelection, Message: "selection item without page id", AccountID: account.ID}
		}
		if item.Page.Locked(now) {
			return nil, &CodedError{
				Code:          CodeContentLocked,
				Message:       fmt.Sprintf("page %q is locked", item.Page.Name),
				PlatformID:    account.PlatformID,
				AccountID:     account.ID,
				PageID:        item.Page.ID,
				RemainingDays: item.Page.RemainingDays(now),
			}
		}
		active, err := s.jobs.CountActiveForPage(ctx, account.ID, item.Page.ID)
		if err != nil {
			return nil, err
		}
		if active > 0 {
			return nil, fmt.Errorf("page %s already downloading: %w", item.Page.ID, ports.ErrConflict)
		}
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		name := item.OutputName
		if name == "" {
			name = item.Page.Name
		}
		name = SanitizeName(name, item.Page.ID, cfg.MaxNameLength)

		params, err := json.Marshal(jobParams{
			Page:        item.Page,
			AssetKinds:  item.AssetKinds,
			ProductName: SanitizeName(item.ProductName, "", cfg.MaxNameLength),
			ModuleName:  SanitizeName(item.ModuleName, "", cfg.MaxNameLength),
		})
		if err != nil {
			return nil, err
		}

		created := s.now().UTC()
		job := domain.DownloadJob{
			ID:         xid.New().String(),
			AccountID:  account.ID,
			PageID:     item.Page.ID,
			OutputName: name,
			State:      domain.JobQueued,
			CreatedAt:  created,
			UpdatedAt:  created,
			ParamsJSON: params,
		}
		saved, err := s.jobs.Create(ctx, job)
		if err != nil {
			return nil, err
		}
		PublishJobEvent(s.bus, "job.created", saved)
		ids = append(ids, saved.ID)
	}
	return ids, nil
}

func (s *DownloadService) Get(ctx context.Context, id string) (JobDTO, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return JobDTO{}, err
	}
	return ToJobDTO(job), nil
}

// Status renvoie les résumés pour le polling de l'UI.
func (s *DownloadService) Status(ctx context.Context, ids []string) ([]JobDTO, error) {
	jobs, err := s.jobs.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]JobDTO, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, ToJobDTO(j))
	}
	return out, nil
}

func (s *DownloadService) List(ctx context.Context, limit int) ([]JobDTO, error) {
	jobs, err := s.jobs.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]JobDTO, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, ToJobDTO(j))
	}
	return out, nil
}

// Cancel est coopératif : on marque canceled, le worker vérifie le drapeau
// entre deux chunks et avant chaque retry. On essaie en cascade depuis
// chaque état non terminal.
func (s *DownloadService) Cancel(ctx context.Context, id string) (JobDTO, error) {
	for _, expected := range []domain.JobState{domain.JobQueued, domain.JobRunning, domain.JobRetrying} {
		updated, err := s.jobs.UpdateState(ctx, id, expected, domain.JobCanceled)
		if err == nil {
			PublishJobEvent(s.bus, "job.canceled", updated)
			return ToJobDTO(updated), nil
		}
	}
	// fallback: renvoyer l'état actuel (déjà terminal, ou introuvable)
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return JobDTO{}, err
	}
	return ToJobDTO(job), nil
}

func (s *DownloadService) Events(ctx context.Context, id string) ([]domain.JobEvent, error) {
	if _, err := s.jobs.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.jobs.ListEvents(ctx, id)
}
