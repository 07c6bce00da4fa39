package daemon

import (
	"context"

	"autoboard/internal/logging"
	"autoboard/internal/types"
)

const interruptedRunMessage = "Agent run interrupted by restart"

// ReconcileStaleRuns moves cards stranded in progress by a previous daemon
// to manual review. It returns how many cards moved.
func (s *CardRunService) ReconcileStaleRuns(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	cards, err := s.cards.List(ctx, CardFilter{Column: types.ColumnInProgress})
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, card := range cards {
		if card == nil || s.registry.Has(card.ID) {
			continue
		}
		logger := s.logger.With(logging.F("card_id", card.ID))
		last, err := s.logs.MaxSequence(ctx, card.ID)
		if err != nil {
			logger.Warn("stale_run_sequence_failed", logging.Err(err))
			continue
		}
		content := types.SystemLog(interruptedRunMessage)
		if _, err := s.logs.CreateLog(ctx, &types.CardLog{
			CardID:   card.ID,
			Type:     content.Type,
			Content:  content.Encode(),
			Sequence: last + 1,
		}); err != nil {
			logger.Warn("stale_run_log_failed", logging.Err(err))
		}
		if _, err := s.cards.Update(ctx, card.ID, types.ColumnPatch(types.ColumnManualReview)); err != nil {
			logger.Warn("stale_run_move_failed", logging.Err(err))
			continue
		}
		moved++
	}
	if moved > 0 {
		s.logger.Info("stale_runs_reconciled", logging.F("count", moved))
	}
	return moved, nil
}
