package search

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"
)

// ScanSearcher matches notes by case-insensitive substring over a NoteSource.
// It serves the in-memory store, where no index exists.
type ScanSearcher struct {
	source NoteSource
}

func NewScanSearcher(source NoteSource) *ScanSearcher {
	return &ScanSearcher{source: source}
}

func (s *ScanSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}
	limit, offset := normalizeLimit(q.Limit, q.Offset)

	records, err := s.source.ListNoteSearchRecords(ctx)
	if err != nil {
		return nil, 0, err
	}

	var matched []Result
	for _, r := range records {
		if q.CandidateID != "" && r.CandidateID != q.CandidateID {
			continue
		}
		if !visible(q, r.AuthorID, r.IsPrivate) {
			continue
		}
		idx := strings.Index(strings.ToLower(r.Content), needle)
		if idx < 0 {
			continue
		}
		matched = append(matched, Result{
			NoteID:      r.ID,
			CandidateID: r.CandidateID,
			AuthorID:    r.AuthorID,
			AuthorName:  r.AuthorName,
			Type:        r.Type,
			Snippet:     snippet(r.Content, idx, len(needle)),
			CreatedAt:   r.CreatedAt,
		})
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// snippet returns up to 60 bytes of context on each side of the match,
// trimmed to rune boundaries.
func snippet(content string, idx, n int) string {
	const radius = 60
	start := idx - radius
	if start < 0 {
		start = 0
	}
	end := idx + n + radius
	if end > len(content) {
		end = len(content)
	}
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}
	out := content[start:end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(content) {
		out += "..."
	}
	return out
}
