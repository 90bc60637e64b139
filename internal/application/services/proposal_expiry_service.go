package services

import (
	"context"
	"time"

	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/providers"
	"github.com/zatekoja/carebook/internal/domain/repositories"
	"github.com/zatekoja/carebook/internal/infrastructure/observability"
	"github.com/zatekoja/carebook/pkg/clock"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

const (
	proposalExpiredReason = "proposal expired"
	expiryBatchSize       = 100
)

// ProposalExpiryService rejects reschedule proposals nobody answered in time
type ProposalExpiryService struct {
	appointments repositories.AppointmentRepository
	notifier     providers.NotificationPort
	clock        clock.Clock
	metrics      *observability.Metrics
}

// NewProposalExpiryService creates a new proposal expiry service
func NewProposalExpiryService(
	appointments repositories.AppointmentRepository,
	notifier providers.NotificationPort,
	clk clock.Clock,
	metrics *observability.Metrics,
) *ProposalExpiryService {
	if notifier == nil {
		notifier = providers.NopNotifier{}
	}
	return &ProposalExpiryService{
		appointments: appointments,
		notifier:     notifier,
		clock:        clk,
		metrics:      metrics,
	}
}

// ExpireStale rejects, on behalf of the system, every active proposal made
// more than maxAge ago. Appointments modified while the job runs are
// skipped and picked up on the next run. Returns the number expired.
func (s *ProposalExpiryService) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	logger := observability.ComponentLogger(ctx, "proposal-expiry")
	cutoff := s.clock.Now().Add(-maxAge)

	expired := 0
	skipped := make(map[string]struct{})
	for {
		batch, err := s.appointments.ListStaleProposals(ctx, cutoff, expiryBatchSize)
		if err != nil {
			return expired, err
		}

		progressed := false
		for _, appointment := range batch {
			if _, seen := skipped[appointment.ID]; seen {
				continue
			}
			if err := ctx.Err(); err != nil {
				return expired, err
			}

			proposer := appointment.PendingReschedule.ProposedBy
			now := s.clock.Now()
			if err := appointment.Decide(entities.RescheduleDecisionRejected, entities.ActorSystem, proposalExpiredReason, now); err != nil {
				skipped[appointment.ID] = struct{}{}
				logger.Warn().Err(err).Str("appointment_id", appointment.ID).Msg("cannot expire proposal")
				continue
			}
			if err := s.appointments.Update(ctx, appointment); err != nil {
				skipped[appointment.ID] = struct{}{}
				if apperrors.IsType(err, apperrors.ErrorTypeConflict) {
					logger.Info().Str("appointment_id", appointment.ID).Msg("appointment changed during expiry, skipping")
					continue
				}
				return expired, err
			}

			expired++
			progressed = true
			observability.RecordReschedule(ctx, s.metrics, "expired")
			emit(ctx, s.notifier, entities.BookingEventRescheduleDecided, appointment, proposer, map[string]interface{}{
				"decision": string(entities.RescheduleDecisionRejected),
				"reason":   proposalExpiredReason,
			}, now)
		}

		if len(batch) < expiryBatchSize || !progressed {
			break
		}
	}

	logger.Info().Int("expired", expired).Dur("max_age", maxAge).Msg("expired stale reschedule proposals")
	return expired, nil
}
