package db

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/notesync/internal/cursor"
	"github.com/hpungsan/notesync/internal/errors"
	"github.com/hpungsan/notesync/internal/note"
)

var seedStart = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func stringPtr(s string) *string { return &s }

func newTestSource(t *testing.T) *Source {
	t.Helper()
	src, err := Open("sqlite", filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

// testRow builds a local public note created i minutes after seedStart.
func testRow(i int) Row {
	at := seedStart.Add(time.Duration(i) * time.Minute)
	return Row{
		Note: note.Note{
			ID:        cursor.EncodeAid(at)[:8] + fmt.Sprintf("%02d", i%100),
			CreatedAt: at,
			UserID:    "user1",
			Text:      stringPtr(fmt.Sprintf("note %d", i)),
			Tags:      []string{"tag"},
		},
		Visibility: "public",
	}
}

func insertRows(t *testing.T, src *Source, rows ...Row) {
	t.Helper()
	for _, r := range rows {
		require.NoError(t, src.Insert(context.Background(), r))
	}
}

func fetchAll(t *testing.T, src *Source, f Filter) []note.Note {
	t.Helper()
	var all []note.Note
	after := cursor.Min(f.Scheme)
	for {
		batch, err := src.FetchBatch(context.Background(), f, after, f.Limit())
		require.NoError(t, err)
		all = append(all, batch...)
		if len(batch) < f.Limit() {
			return all
		}
		after = batch[len(batch)-1].ID
	}
}

func TestFetchBatch_OrderAndLimit(t *testing.T) {
	src := newTestSource(t)

	// Insert out of order
	for _, i := range []int{4, 0, 3, 1, 2} {
		insertRows(t, src, testRow(i))
	}

	batch, err := src.FetchBatch(context.Background(), Filter{}, cursor.Min(cursor.SchemeAid), 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, testRow(0).ID, batch[0].ID)
	assert.Equal(t, testRow(1).ID, batch[1].ID)
	assert.Equal(t, testRow(2).ID, batch[2].ID)

	// Strictly greater than the cursor
	batch, err = src.FetchBatch(context.Background(), Filter{}, testRow(2).ID, 3)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, testRow(3).ID, batch[0].ID)
	assert.Equal(t, testRow(4).ID, batch[1].ID)
}

func TestFetchBatch_LimitAboveTableSize(t *testing.T) {
	src := newTestSource(t)
	insertRows(t, src, testRow(0), testRow(1), testRow(2))

	batch, err := src.FetchBatch(context.Background(), Filter{}, cursor.Min(cursor.SchemeAid), 2_000_000_000)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.LessOrEqual(t, cap(batch), maxPrealloc)
}

func TestFetchBatch_ScansFields(t *testing.T) {
	src := newTestSource(t)
	row := testRow(7)
	row.UserHost = nil
	row.ChannelID = stringPtr("chan1")
	row.CW = stringPtr("spoiler")
	row.Tags = []string{"a", "b"}
	insertRows(t, src, row)

	batch, err := src.FetchBatch(context.Background(), Filter{}, cursor.Min(cursor.SchemeAid), 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	got := batch[0]
	assert.Equal(t, row.ID, got.ID)
	assert.True(t, row.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
	assert.Equal(t, "user1", got.UserID)
	assert.Nil(t, got.UserHost)
	assert.Equal(t, "chan1", *got.ChannelID)
	assert.Equal(t, "spoiler", *got.CW)
	assert.Equal(t, "note 7", *got.Text)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
}

func TestFetchBatch_EmptyTags(t *testing.T) {
	src := newTestSource(t)
	row := testRow(1)
	row.Tags = nil
	insertRows(t, src, row)

	batch, err := src.FetchBatch(context.Background(), Filter{}, cursor.Min(cursor.SchemeAid), 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.NotNil(t, batch[0].Tags)
	assert.Empty(t, batch[0].Tags)
}

func TestFetchBatch_PaginationMatchesFullScan(t *testing.T) {
	src := newTestSource(t)
	for i := range 47 {
		insertRows(t, src, testRow(i))
	}

	full, err := src.FetchBatch(context.Background(), Filter{}, cursor.Min(cursor.SchemeAid), 1000)
	require.NoError(t, err)
	require.Len(t, full, 47)

	for _, size := range []int{1, 5, 10, 46, 47, 48} {
		t.Run(fmt.Sprintf("batch %d", size), func(t *testing.T) {
			paged := fetchAll(t, src, Filter{BatchSize: size})
			require.Len(t, paged, len(full))
			for i := range full {
				assert.Equal(t, full[i].ID, paged[i].ID)
			}
		})
	}
}

func TestFetchBatch_VisibilityAndContent(t *testing.T) {
	src := newTestSource(t)

	public := testRow(0)
	home := testRow(1)
	home.Visibility = "home"
	followers := testRow(2)
	followers.Visibility = "followers"
	specified := testRow(3)
	specified.Visibility = "specified"
	pureRenote := testRow(4)
	pureRenote.Text = nil
	pureRenote.RenoteID = stringPtr(public.ID)
	quote := testRow(5)
	quote.RenoteID = stringPtr(public.ID)
	noText := testRow(6)
	noText.Text = nil

	insertRows(t, src, public, home, followers, specified, pureRenote, quote, noText)

	got := fetchAll(t, src, Filter{BatchSize: 100})
	ids := make([]string, len(got))
	for i, n := range got {
		ids[i] = n.ID
	}
	assert.Equal(t, []string{public.ID, home.ID, quote.ID}, ids)
}

func TestFetchBatch_HostAllowList(t *testing.T) {
	src := newTestSource(t)

	local := testRow(0)
	a := testRow(1)
	a.UserHost = stringPtr("a.example")
	b := testRow(2)
	b.UserHost = stringPtr("b.example")
	c := testRow(3)
	c.UserHost = stringPtr("c.example")
	insertRows(t, src, local, a, b, c)

	t.Run("no allow-list keeps local notes only", func(t *testing.T) {
		got := fetchAll(t, src, Filter{BatchSize: 10})
		require.Len(t, got, 1)
		assert.Equal(t, local.ID, got[0].ID)
	})

	t.Run("allow-list adds listed hosts", func(t *testing.T) {
		got := fetchAll(t, src, Filter{BatchSize: 1, Hosts: []string{"a.example", "b.example"}})
		require.Len(t, got, 3)
		for _, n := range got {
			if n.UserHost != nil {
				assert.NotEqual(t, "c.example", *n.UserHost)
			}
		}
		assert.Equal(t, local.ID, got[0].ID)
		assert.Equal(t, a.ID, got[1].ID)
		assert.Equal(t, b.ID, got[2].ID)
	})
}

func TestFetchBatch_TimeBounds(t *testing.T) {
	src := newTestSource(t)
	for i := range 10 {
		insertRows(t, src, testRow(i))
	}

	since := seedStart.Add(3 * time.Minute)
	until := seedStart.Add(7 * time.Minute)

	got := fetchAll(t, src, Filter{BatchSize: 2, Since: &since, Until: &until})
	require.Len(t, got, 4)
	assert.Equal(t, testRow(3).ID, got[0].ID)
	assert.Equal(t, testRow(6).ID, got[3].ID)

	total, err := src.CountMatching(context.Background(), Filter{Since: &since, Until: &until})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}

func TestFetchBatch_MalformedRecord(t *testing.T) {
	src := newTestSource(t)
	bad := testRow(0)
	bad.UserID = ""
	insertRows(t, src, bad)

	_, err := src.FetchBatch(context.Background(), Filter{}, cursor.Min(cursor.SchemeAid), 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedRecord))
}

func TestFetchBatch_ClosedDatabase(t *testing.T) {
	src := newTestSource(t)
	require.NoError(t, src.Close())

	_, err := src.FetchBatch(context.Background(), Filter{}, cursor.Min(cursor.SchemeAid), 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSourceUnavailable))

	_, err = src.CountMatching(context.Background(), Filter{})
	assert.True(t, errors.Is(err, errors.ErrSourceUnavailable))
}

func TestCountMatching_IgnoresCursor(t *testing.T) {
	src := newTestSource(t)
	for i := range 12 {
		insertRows(t, src, testRow(i))
	}
	remote := testRow(50)
	remote.UserHost = stringPtr("c.example")
	insertRows(t, src, remote)

	total, err := src.CountMatching(context.Background(), Filter{BatchSize: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)

	total, err = src.CountMatching(context.Background(), Filter{Hosts: []string{"c.example"}})
	require.NoError(t, err)
	assert.Equal(t, int64(13), total)
}

func TestCountMatching_Empty(t *testing.T) {
	src := newTestSource(t)

	total, err := src.CountMatching(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestInsert_RequiresSQLite(t *testing.T) {
	src := NewSource(nil, Postgres)

	err := src.Insert(context.Background(), testRow(0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
