package search

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"candidatehub/api/internal/store"
)

type fakeSource struct {
	records []store.NoteSearchRecord
	err     error
}

func (f fakeSource) ListNoteSearchRecords(context.Context) ([]store.NoteSearchRecord, error) {
	return f.records, f.err
}

func sampleRecords() []store.NoteSearchRecord {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return []store.NoteSearchRecord{
		{ID: "n1", CandidateID: "c1", AuthorID: "u1", Content: "Strong Go background", CreatedAt: base},
		{ID: "n2", CandidateID: "c1", AuthorID: "u2", Content: "go deeper on systems design", IsPrivate: true, CreatedAt: base.Add(time.Hour)},
		{ID: "n3", CandidateID: "c2", AuthorID: "u1", Content: "Great GO energy", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "n4", CandidateID: "c1", AuthorID: "u1", Content: "salary expectations", CreatedAt: base.Add(3 * time.Hour)},
	}
}

func TestScanSearcherVisibility(t *testing.T) {
	searcher := NewScanSearcher(fakeSource{records: sampleRecords()})

	cases := []struct {
		name  string
		query Query
		want  []string
	}{
		{name: "hides others private notes", query: Query{Text: "go", ViewerID: "u1"}, want: []string{"n3", "n1"}},
		{name: "author sees own private note", query: Query{Text: "go", ViewerID: "u2"}, want: []string{"n3", "n2", "n1"}},
		{name: "admin sees everything", query: Query{Text: "GO", ViewerID: "u9", ViewerIsAdmin: true}, want: []string{"n3", "n2", "n1"}},
		{name: "candidate filter", query: Query{Text: "go", CandidateID: "c1", ViewerID: "u2"}, want: []string{"n2", "n1"}},
		{name: "blank query", query: Query{Text: "   ", ViewerID: "u1"}, want: nil},
		{name: "paging", query: Query{Text: "go", ViewerID: "u2", Limit: 1, Offset: 1}, want: []string{"n2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			results, _, err := searcher.Search(context.Background(), tc.query)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			var ids []string
			for _, r := range results {
				ids = append(ids, r.NoteID)
			}
			if !reflect.DeepEqual(ids, tc.want) {
				t.Fatalf("Search() ids = %v, want %v", ids, tc.want)
			}
		})
	}
}

func TestServiceFallbackErrorReturnsEmpty(t *testing.T) {
	svc := NewService(nil, NewScanSearcher(fakeSource{err: errors.New("boom")}), zap.NewNop())
	resp := svc.Search(context.Background(), Query{Text: "go"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 || resp.Query != "go" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSnippetRespectsBounds(t *testing.T) {
	content := strings.Repeat("é", 40) + "x keyword " + strings.Repeat("é", 40)
	idx := strings.Index(content, "keyword")
	got := snippet(content, idx, len("keyword"))
	if !utf8.ValidString(got) {
		t.Fatalf("snippet() = %q is not valid UTF-8", got)
	}
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") || !strings.Contains(got, "keyword") {
		t.Fatalf("snippet() = %q, expected the match with ellipses on both sides", got)
	}
}

func TestMeiliFilters(t *testing.T) {
	got := meiliFilters(Query{CandidateID: "c1", ViewerID: "u1"})
	want := []string{`candidateId = "c1"`, `isPrivate = false OR authorId = "u1"`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("meiliFilters() = %v, want %v", got, want)
	}
	if got := meiliFilters(Query{ViewerIsAdmin: true}); len(got) != 0 {
		t.Fatalf("admin filters = %v, want none", got)
	}
}
