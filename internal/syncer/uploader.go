package syncer

import (
	"context"
	"fmt"

	"github.com/google/mail-importer/internal/mailstore"
)

// Upload imports m's raw bytes as a new Gmail message. The returned
// RemoteMessage has no labels until FetchLabels runs. Rejections are
// returned as *gmail.RejectedError.
func (s *Syncer) Upload(ctx context.Context, m *mailstore.Message) (*RemoteMessage, error) {
	if s.dir == nil {
		return nil, ErrNotConnected
	}
	if err := s.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("upload %s: %w", m.ID, err)
	}
	id, err := s.Client.Import(ctx, m.Raw)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", m.ID, err)
	}
	s.Logger.Info("uploaded message", "message_id", m.ID, "remote_id", id, "folders", m.Folders)
	return &RemoteMessage{ID: id}, nil
}
