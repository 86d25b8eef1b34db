package ports

import (
	"context"

	"github.com/coursekeep/coursekeep/internal/domain"
)

type JobRepository interface {
	// Create refuse (ErrConflict) un second job en vol pour le même couple
	// (compte, page).
	Create(ctx context.Context, job domain.DownloadJob) (domain.DownloadJob, error)
	Get(ctx context.Context, id string) (domain.DownloadJob, error)
	GetMany(ctx context.Context, ids []string) ([]domain.DownloadJob, error)
	List(ctx context.Context, limit int) ([]domain.DownloadJob, error)
	// ClaimNextQueued passe le plus vieux job "queued" à "running" et le
	// renvoie. ErrNotFound quand il n'y a rien à exécuter.
	ClaimNextQueued(ctx context.Context) (domain.DownloadJob, error)
	CountActiveForPage(ctx context.Context, accountID, pageID string) (int, error)
	// UpdateState est un compare-and-set : une mise à jour basée sur un état
	// périmé est rejetée (ErrNotFound) et doit être relue puis rejouée.
	UpdateState(ctx context.Context, id string, expected, next domain.JobState) (domain.DownloadJob, error)
	UpdateError(ctx context.Context, id string, code, message string) (domain.DownloadJob, error)
	RecordAttempt(ctx context.Context, id string) (domain.DownloadJob, error)
	SetOutputPath(ctx context.Context, id string, path string) error
	// ListEvents renvoie le journal append-only des transitions, dans l'ordre.
	ListEvents(ctx context.Context, jobID string) ([]domain.JobEvent, error)
}

type EventBus interface {
	Publish(topic string, payload []byte)
	Subscribe() (ch <-chan Event, cancel func())
}

type Event struct {
	Topic   string
	Payload []byte
}
