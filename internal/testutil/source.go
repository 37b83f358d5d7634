package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/notesync/internal/cursor"
	"github.com/hpungsan/notesync/internal/db"
	"github.com/hpungsan/notesync/internal/note"
)

// SeedStart is the creation time of the first seeded note.
var SeedStart = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// NewTestSource opens an empty SQLite source in a temp directory.
func NewTestSource(t *testing.T) *db.Source {
	t.Helper()

	src, err := db.Open(string(db.SQLite), filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	return src
}

// NoteRow builds a local public note created i seconds after SeedStart.
// Ids sort in creation order for i < 10000.
func NoteRow(i int) db.Row {
	at := SeedStart.Add(time.Duration(i) * time.Second)
	text := fmt.Sprintf("note %d", i)

	return db.Row{
		Note: note.Note{
			ID:        cursor.EncodeAid(at)[:8] + fmt.Sprintf("%02d", i%100),
			CreatedAt: at,
			UserID:    "user1",
			Text:      &text,
			Tags:      []string{},
		},
		Visibility: "public",
	}
}

// SeedNotes inserts n local public notes and returns their ids in order.
func SeedNotes(t *testing.T, src *db.Source, n int) []string {
	t.Helper()

	ids := make([]string, n)
	for i := range n {
		row := NoteRow(i)
		require.NoError(t, src.Insert(context.Background(), row))
		ids[i] = row.ID
	}

	return ids
}
