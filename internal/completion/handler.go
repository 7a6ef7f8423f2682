package completion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hackgods/insured-appointments/internal/appointment"
	"github.com/hackgods/insured-appointments/internal/messaging"
	"github.com/hackgods/insured-appointments/internal/metrics"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

// Name identifies the completion consumer in logs and metrics.
const Name = "completion"

// ErrOrphanedConfirmation is returned when a confirmation names an
// appointment the central index does not know.
var ErrOrphanedConfirmation = errors.New("confirmation for unknown appointment")

// Handler moves PENDING appointments to CONFIRMED once their country ledger
// reports the write.
type Handler struct {
	store   appointment.IndexStore
	logger  *logging.Logger
	metrics *metrics.Saga
}

func NewHandler(store appointment.IndexStore, logger *logging.Logger, m *metrics.Saga) *Handler {
	if store == nil {
		panic("completion: index store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:   store,
		logger:  logger.Named(Name),
		metrics: m,
	}
}

// Handle is a messaging.Handler. Redelivered confirmations are acked
// without a second transition.
func (h *Handler) Handle(ctx context.Context, msg messaging.Message) error {
	body, _ := messaging.Unwrap(msg.Body, msg.Attributes)

	id, country, err := appointment.DecodeConfirmed(body)
	if err != nil {
		return messaging.Permanent(err)
	}

	log := h.logger.With(
		zap.String("appointment_id", id),
		zap.String("country", string(country)),
		zap.String("message_id", msg.ID),
	)

	err = h.confirm(ctx, id, country, log)
	if errors.Is(err, appointment.ErrConcurrentUpdate) {
		log.Info("appointment changed while confirming, reloading")
		err = h.confirm(ctx, id, country, log)
	}
	return err
}

func (h *Handler) confirm(ctx context.Context, id string, country appointment.Country, log *logging.Logger) error {
	appt, err := h.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			// The index write may not be visible yet; the retry budget
			// bounds how long we wait for it.
			h.metrics.RaiseAlarm(metrics.AlarmConfirmationOrphaned)
			log.Error("confirmation for unknown appointment")
			return fmt.Errorf("%w: %s", ErrOrphanedConfirmation, id)
		}
		return fmt.Errorf("load appointment: %w", err)
	}

	if appt.Country() != country {
		h.metrics.RaiseAlarm(metrics.AlarmCountryMismatch)
		log.Error("confirmation from another country's ledger",
			zap.String("index_country", string(appt.Country())),
		)
		return messaging.Permanent(fmt.Errorf("appointment %s is %s, confirmed by %s", id, appt.Country(), country))
	}

	switch appt.Status() {
	case appointment.StatusConfirmed, appointment.StatusCompleted:
		log.Debug("appointment already confirmed", zap.String("status", string(appt.Status())))
		return nil
	case appointment.StatusCancelled:
		h.metrics.RaiseAlarm(metrics.AlarmConfirmationAfterCancel)
		log.Warn("confirmation received for cancelled appointment")
		return nil
	}

	if err := appt.Confirm(); err != nil {
		return messaging.Permanent(err)
	}
	if err := h.store.Update(ctx, appt, appointment.StatusPending); err != nil {
		return fmt.Errorf("confirm appointment %s: %w", id, err)
	}

	h.metrics.ObserveTransition(string(appointment.StatusPending), string(appointment.StatusConfirmed))
	log.Info("appointment confirmed")
	return nil
}
