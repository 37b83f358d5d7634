package sink

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus"

	"github.com/hpungsan/notesync/internal/errors"
	"github.com/hpungsan/notesync/internal/note"
)

// Compile-time interface compliance check.
var _ Publisher = (*Meili)(nil)

// Config holds Meilisearch connection settings.
type Config struct {
	Host    string
	APIKey  string
	Index   string
	Timeout time.Duration
}

// Meili publishes notes to a Meilisearch index.
type Meili struct {
	log    logrus.FieldLogger
	cfg    Config
	client meilisearch.ServiceManager
	index  meilisearch.IndexManager
}

// NewMeili creates a Meilisearch publisher. No request is made until Ping or Publish.
func NewMeili(log logrus.FieldLogger, cfg Config) *Meili {
	opts := []meilisearch.Option{
		meilisearch.WithCustomClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.APIKey != "" {
		opts = append(opts, meilisearch.WithAPIKey(cfg.APIKey))
	}

	client := meilisearch.New(cfg.Host, opts...)

	return &Meili{
		log:    log.WithField("component", "sink"),
		cfg:    cfg,
		client: client,
		index:  client.Index(cfg.Index),
	}
}

// Ping verifies the Meilisearch instance is reachable and available.
func (m *Meili) Ping(ctx context.Context) error {
	health, err := m.client.HealthWithContext(ctx)
	if err != nil {
		return errors.NewSinkUnavailable("health", err)
	}
	if health.Status != "available" {
		return errors.NewSinkUnavailable("health", fmt.Errorf("status %q", health.Status))
	}

	m.log.WithFields(logrus.Fields{
		"host":  m.cfg.Host,
		"index": m.cfg.Index,
	}).Debug("Meilisearch is available")

	return nil
}

// Publish enqueues the batch as an add-or-replace documents task.
func (m *Meili) Publish(ctx context.Context, batch []note.Note) (*Task, error) {
	if len(batch) == 0 {
		return nil, errors.NewInvalidRequest("cannot publish an empty batch")
	}

	info, err := m.index.AddDocumentsWithContext(ctx, note.Documents(batch), note.PrimaryKey)
	if err != nil {
		return nil, errors.NewSinkUnavailable("add documents", err)
	}

	return &Task{
		UID:        info.TaskUID,
		IndexUID:   info.IndexUID,
		Status:     string(info.Status),
		EnqueuedAt: info.EnqueuedAt,
	}, nil
}
