package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/notesync/internal/errors"
	"github.com/hpungsan/notesync/internal/note"
)

// maxPrealloc bounds the slice reserved per batch; larger batches grow on append.
const maxPrealloc = 1024

// Row is a note plus the columns the filter inspects but the index does not store.
type Row struct {
	note.Note
	Visibility string
	RenoteID   *string
}

// CountMatching returns the number of notes matching the filter, ignoring the
// cursor. It scans the whole filtered range, so callers should not run it per batch.
func (s *Source) CountMatching(ctx context.Context, f Filter) (int64, error) {
	pred, err := BuildPredicate(f, s.dialect, nil)
	if err != nil {
		return 0, errors.NewInvalidRequest(err.Error())
	}

	query := `SELECT count(*) FROM "note" WHERE ` + pred.SQL

	var total int64
	if err := s.db.QueryRowContext(ctx, query, pred.Args...).Scan(&total); err != nil {
		return 0, errors.NewSourceUnavailable("count notes", err)
	}
	return total, nil
}

// FetchBatch returns up to limit matching notes with id strictly greater than
// after, ordered by id ascending.
func (s *Source) FetchBatch(ctx context.Context, f Filter, after string, limit int) ([]note.Note, error) {
	pred, err := BuildPredicate(f, s.dialect, &after)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	query := `
		SELECT "id", ` + s.dialect.createdAtColumn() + `, "userId", "userHost",
			"channelId", "cw", "text", ` + s.dialect.tagsColumn() + `
		FROM "note"
		WHERE ` + pred.SQL + `
		ORDER BY "id" ASC
		LIMIT ` + s.dialect.Placeholder(len(pred.Args)+1)

	args := append(pred.Args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewSourceUnavailable("fetch batch", err)
	}
	defer rows.Close()

	notes := make([]note.Note, 0, min(limit, maxPrealloc))
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewSourceUnavailable("fetch batch", err)
	}

	return notes, nil
}

// Insert stores a row in a SQLite source. It seeds local databases and tests;
// production sources are written by Misskey itself.
func (s *Source) Insert(ctx context.Context, r Row) error {
	if s.dialect != SQLite {
		return errors.NewInvalidRequest("insert is only supported for sqlite sources")
	}

	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return errors.NewInternal(err)
	}

	visibility := r.Visibility
	if visibility == "" {
		visibility = "public"
	}

	query := `
		INSERT INTO "note" (
			"id", "createdAt", "userId", "userHost", "channelId",
			"cw", "text", "tags", "visibility", "renoteId"
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var userID sql.NullString
	if r.UserID != "" {
		userID = sql.NullString{String: r.UserID, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.CreatedAt.UnixMilli(), userID, toNullString(r.UserHost), toNullString(r.ChannelID),
		toNullString(r.CW), toNullString(r.Text), string(tagsJSON), visibility, toNullString(r.RenoteID),
	)
	if err != nil {
		return errors.NewSourceUnavailable("insert note", err)
	}
	return nil
}

// scanNote scans a single row into a Note. NULL in a required column is a
// schema mismatch and fails the batch.
func scanNote(rows *sql.Rows) (*note.Note, error) {
	var (
		id        sql.NullString
		createdAt sql.NullInt64
		userID    sql.NullString
		userHost  sql.NullString
		channelID sql.NullString
		cw        sql.NullString
		text      sql.NullString
		tagsJSON  sql.NullString
	)

	err := rows.Scan(&id, &createdAt, &userID, &userHost, &channelID, &cw, &text, &tagsJSON)
	if err != nil {
		return nil, errors.NewSourceUnavailable("scan note", err)
	}

	if !id.Valid {
		return nil, errors.NewMalformedRecord("", "id")
	}
	if !createdAt.Valid {
		return nil, errors.NewMalformedRecord(id.String, "createdAt")
	}
	if !userID.Valid {
		return nil, errors.NewMalformedRecord(id.String, "userId")
	}

	n := &note.Note{
		ID:        id.String,
		CreatedAt: time.UnixMilli(createdAt.Int64).UTC(),
		UserID:    userID.String,
		UserHost:  fromNullString(userHost),
		ChannelID: fromNullString(channelID),
		CW:        fromNullString(cw),
		Text:      fromNullString(text),
		Tags:      []string{},
	}

	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &n.Tags); err != nil {
			return nil, errors.NewMalformedRecord(id.String, "tags")
		}
		if n.Tags == nil {
			n.Tags = []string{}
		}
	}

	return n, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
