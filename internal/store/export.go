package store

import (
	"context"
	"fmt"

	"github.com/brightpath/assessor/internal/model"
)

// ExportSessions builds export-ready assessments with their responses.
// An empty learnerID exports every learner.
func (s *Store) ExportSessions(ctx context.Context, learnerID string) ([]model.AssessmentExport, error) {
	sessions, err := s.ListSessions(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]model.AssessmentExport, 0, len(sessions))
	for _, sess := range sessions {
		responses, err := s.ListResponses(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("responses of session %s: %w", sess.ID, err)
		}
		if responses == nil {
			responses = []model.ResponseRecord{}
		}
		out = append(out, model.AssessmentExport{State: sess, Responses: responses})
	}
	return out, nil
}
