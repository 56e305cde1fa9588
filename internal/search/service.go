package search

import (
	"context"

	"go.uber.org/zap"

	"candidatehub/api/internal/store"
)

// Service tries Meilisearch first and falls back to the store-native searcher.
type Service struct {
	meili    *Meili
	fallback Searcher
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, fallback Searcher, logger *zap.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, logger: logger.With(zap.String("component", "search"))}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back", zap.Error(err))
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexNote pushes a created or edited note to Meilisearch without blocking.
func (s *Service) IndexNote(note store.Note) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFromNote(note)
	go func() {
		if err := s.meili.IndexNotes([]NoteRecord{record}); err != nil {
			s.logger.Warn("index note", zap.String("noteId", record.ID), zap.Error(err))
		}
	}()
}

// RemoveNote deletes a note from Meilisearch without blocking.
func (s *Service) RemoveNote(noteID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteNote(noteID); err != nil {
			s.logger.Warn("delete note from index", zap.String("noteId", noteID), zap.Error(err))
		}
	}()
}

// Reindex loads every note from source and pushes it to Meilisearch.
func (s *Service) Reindex(ctx context.Context, source NoteSource) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records, err := source.ListNoteSearchRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	batch := make([]NoteRecord, 0, len(records))
	for _, r := range records {
		batch = append(batch, recordFromSearchRecord(r))
	}
	if err := s.meili.IndexNotes(batch); err != nil {
		s.logger.Warn("reindex notes", zap.Error(err))
		return
	}
	s.logger.Info("reindexed notes", zap.Int("count", len(batch)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
