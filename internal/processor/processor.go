package processor

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

// CountryProcessor persists fan-out messages of one country into its ledger
// and reports each stored appointment on the confirmation channel.
type CountryProcessor struct {
	country appointment.Country
	ledger  appointment.LedgerStore
	confirm appointment.Publisher
	logger  *logging.Logger
	metrics *metrics.Saga
}

func New(ledger appointment.LedgerStore, confirm appointment.Publisher, logger *logging.Logger, m *metrics.Saga) *CountryProcessor {
	if ledger == nil {
		panic("processor: ledger store cannot be nil")
	}
	if confirm == nil {
		panic("processor: confirmation publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	country := ledger.Country()
	return &CountryProcessor{
		country: country,
		ledger:  ledger,
		confirm: confirm,
		logger:  logger.Named("processor").With(zap.String("country", string(country))),
		metrics: m,
	}
}

func (p *CountryProcessor) Country() appointment.Country { return p.country }

// Name identifies the processor in consumer logs and metrics.
func (p *CountryProcessor) Name() string {
	return "processor-" + string(p.country)
}

// Handle is a messaging.Handler. Malformed bodies fail permanently; ledger
// and publish failures are retryable. Redelivery of an appointment already
// in the ledger re-emits its confirmation without writing again.
func (p *CountryProcessor) Handle(ctx context.Context, msg messaging.Message) error {
	body, attrs := messaging.Unwrap(msg.Body, msg.Attributes)

	appt, err := appointment.DecodeCreated(body)
	if err != nil {
		return messaging.Permanent(err)
	}

	log := p.logger.With(
		zap.String("appointment_id", appt.ID()),
		zap.String("message_id", msg.ID),
	)

	if tag := attrs[appointment.AttrCountryCode]; tag != "" && tag != string(appt.Country()) {
		p.metrics.RaiseAlarm(metrics.AlarmCountryMismatch)
		log.Warn("mistagged fan-out message, payload country wins",
			zap.String("attribute_country", tag),
			zap.String("payload_country", string(appt.Country())),
		)
	}

	if appt.Country() != p.country {
		return fmt.Errorf("%w: appointment %s belongs to %s", messaging.ErrDiscarded, appt.ID(), appt.Country())
	}

	exists, err := p.ledger.ExistsByID(ctx, appt.ID())
	if err != nil {
		return fmt.Errorf("check ledger: %w", err)
	}

	if !exists {
		inserted, err := p.ledger.Insert(ctx, appt)
		if err != nil {
			if errors.Is(err, appointment.ErrStore) {
				return fmt.Errorf("write ledger: %w", err)
			}
			return messaging.Permanent(fmt.Errorf("write ledger: %w", err))
		}
		if inserted {
			log.Info("appointment recorded in ledger")
		}
	} else {
		log.Info("appointment already in ledger, re-emitting confirmation")
	}

	confirmBody, confirmAttrs, err := appointment.EncodeConfirmed(appt.ID(), p.country)
	if err != nil {
		return messaging.Permanent(err)
	}
	if err := p.confirm.Publish(ctx, confirmBody, confirmAttrs); err != nil {
		return fmt.Errorf("publish confirmation: %w: %w", appointment.ErrPublish, err)
	}
	return nil
}
