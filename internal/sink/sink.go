package sink

//go:generate mockgen -package mocks -destination mocks/mock_publisher.go github.com/hpungsan/notesync/internal/sink Publisher

import (
	"context"
	"time"

	"github.com/hpungsan/notesync/internal/note"
)

// Task identifies an asynchronous indexing job accepted by the sink.
type Task struct {
	UID        int64     `json:"uid"`
	IndexUID   string    `json:"index_uid"`
	Status     string    `json:"status"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Publisher upserts batches of notes into the search index keyed by note id.
// Publish returns once the sink has accepted the batch; indexing may still be
// in progress.
type Publisher interface {
	Publish(ctx context.Context, batch []note.Note) (*Task, error)
}
