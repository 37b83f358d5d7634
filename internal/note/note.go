package note

import "time"

// Note is a source row projected for indexing.
type Note struct {
	// ID is the note id; it sorts in creation order
	ID string

	// CreatedAt is the creation instant in UTC, millisecond precision
	CreatedAt time.Time

	// UserID identifies the author
	UserID string

	// UserHost is the author's remote host (nil for local users)
	UserHost *string

	// ChannelID is set when the note was posted to a channel
	ChannelID *string

	// CW is the content warning, if any
	CW *string

	// Text is the note body
	Text *string

	// Tags are the hashtags extracted from the body (never nil after scanning)
	Tags []string
}

// Document is the shape written to the search index.
type Document struct {
	ID        string   `json:"id"`
	CreatedAt int64    `json:"createdAt"`
	UserID    string   `json:"userId"`
	UserHost  *string  `json:"userHost"`
	ChannelID *string  `json:"channelId"`
	CW        *string  `json:"cw"`
	Text      *string  `json:"text"`
	Tags      []string `json:"tags"`
}

// PrimaryKey is the document field the index upserts on.
const PrimaryKey = "id"

// Document converts the note to its index representation.
func (n *Note) Document() Document {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	return Document{
		ID:        n.ID,
		CreatedAt: n.CreatedAt.UnixMilli(),
		UserID:    n.UserID,
		UserHost:  n.UserHost,
		ChannelID: n.ChannelID,
		CW:        n.CW,
		Text:      n.Text,
		Tags:      tags,
	}
}

// Documents converts a batch, preserving order.
func Documents(notes []Note) []Document {
	docs := make([]Document, len(notes))
	for i := range notes {
		docs[i] = notes[i].Document()
	}
	return docs
}
