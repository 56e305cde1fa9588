package search

import (
	"context"
	"time"

	"candidatehub/api/internal/store"
)

// Result is a single note hit returned to the caller.
type Result struct {
	NoteID      string    `json:"noteId"`
	CandidateID string    `json:"candidateId"`
	AuthorID    string    `json:"authorId"`
	AuthorName  string    `json:"authorName"`
	Type        string    `json:"type"`
	Snippet     string    `json:"snippet"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Query describes a note search. Private notes are only matched for their
// author unless ViewerIsAdmin is set.
type Query struct {
	Text          string
	CandidateID   string
	ViewerID      string
	ViewerIsAdmin bool
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a note search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// NoteSource lists every note in the form the indexes consume.
type NoteSource interface {
	ListNoteSearchRecords(ctx context.Context) ([]store.NoteSearchRecord, error)
}

// NoteRecord is the document stored in the Meilisearch notes index.
type NoteRecord struct {
	ID          string `json:"id"`
	CandidateID string `json:"candidateId"`
	AuthorID    string `json:"authorId"`
	AuthorName  string `json:"authorName"`
	Content     string `json:"content"`
	Type        string `json:"type"`
	IsPrivate   bool   `json:"isPrivate"`
	CreatedAt   int64  `json:"createdAt"`
}

func RecordFromNote(note store.Note) NoteRecord {
	return NoteRecord{
		ID:          note.ID,
		CandidateID: note.CandidateID,
		AuthorID:    note.AuthorID,
		AuthorName:  note.AuthorName,
		Content:     note.Content,
		Type:        note.Type,
		IsPrivate:   note.IsPrivate,
		CreatedAt:   note.CreatedAt.UnixMilli(),
	}
}

func recordFromSearchRecord(r store.NoteSearchRecord) NoteRecord {
	return NoteRecord{
		ID:          r.ID,
		CandidateID: r.CandidateID,
		AuthorID:    r.AuthorID,
		AuthorName:  r.AuthorName,
		Content:     r.Content,
		Type:        r.Type,
		IsPrivate:   r.IsPrivate,
		CreatedAt:   r.CreatedAt.UnixMilli(),
	}
}

func visible(q Query, authorID string, private bool) bool {
	return !private || q.ViewerIsAdmin || authorID == q.ViewerID
}

func normalizeLimit(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
