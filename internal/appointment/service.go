package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/insured-appointments/internal/config"
	"github.com/hackgods/insured-appointments/internal/metrics"
	redisclient "github.com/hackgods/insured-appointments/internal/redis"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

type Service struct {
	store   IndexStore
	fanout  Publisher
	locker  redisclient.Locker
	cfg     config.Config
	logger  *logging.Logger
	metrics *metrics.Saga

	newID func() string
	clock func() time.Time
}

// NewService wires the creation orchestrator. locker and m may be nil.
func NewService(store IndexStore, fanout Publisher, locker redisclient.Locker, cfg config.Config, logger *logging.Logger, m *metrics.Saga) *Service {
	if store == nil {
		panic("appointment: index store cannot be nil")
	}
	if fanout == nil {
		panic("appointment: fan-out publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:   store,
		fanout:  fanout,
		locker:  locker,
		cfg:     cfg,
		logger:  logger.Named("orchestrator"),
		metrics: m,
		newID:   uuid.NewString,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Create books a PENDING appointment for the insured and announces it to
// the country processors. A publish failure after the store write is logged
// and left to the reconciliation sweep; the caller still gets the appointment.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Appointment, error) {
	var created *Appointment

	create := func(ctx context.Context) error {
		active, err := s.store.FindNonTerminalByInsuredID(ctx, cmd.InsuredID)
		if err != nil {
			return fmt.Errorf("check active appointments: %w", err)
		}
		if len(active) > 0 {
			return ErrDuplicatePendingAppointment
		}

		appt := New(s.newID(), cmd.InsuredID, cmd.ScheduleID, cmd.Country, s.clock())
		if err := s.store.Create(ctx, appt); err != nil {
			return err
		}
		created = appt
		return nil
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithInsuredLock(ctx, string(cmd.InsuredID), create)
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			err = fmt.Errorf("%w: another booking is in progress", ErrDuplicatePendingAppointment)
		case errors.Is(err, redisclient.ErrLockUnavailable):
			// the conditional create still guards the single active appointment
			s.logger.Warn("insured lock unavailable, creating without it",
				zap.String("insured_id", string(cmd.InsuredID)),
				zap.Error(err),
			)
			err = create(ctx)
		}
	} else {
		err = create(ctx)
	}

	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrDuplicatePendingAppointment) {
			outcome = "duplicate"
		}
		s.metrics.ObserveCreated(string(cmd.Country), outcome)
		return nil, err
	}

	s.metrics.ObserveCreated(string(cmd.Country), "created")
	s.logger.Info("appointment created",
		zap.String("appointment_id", created.ID()),
		zap.String("insured_id", string(created.InsuredID())),
		zap.String("country", string(created.Country())),
	)

	if err := s.publishCreated(ctx, created); err != nil {
		s.metrics.ObservePublishFailure(EventCreated)
		s.logger.Error("created event not published, left for reconciliation",
			zap.String("appointment_id", created.ID()),
			zap.Error(err),
		)
	}

	return created, nil
}

func (s *Service) publishCreated(ctx context.Context, a *Appointment) error {
	body, attrs, err := EncodeCreated(a)
	if err != nil {
		return err
	}
	if err := s.fanout.Publish(ctx, body, attrs); err != nil {
		return publishError(EventCreated, err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Appointment, error) {
	appt, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListByInsured returns every appointment of the insured, newest first.
func (s *Service) ListByInsured(ctx context.Context, insuredID InsuredID) ([]*Appointment, error) {
	appts, err := s.store.FindByInsuredID(ctx, insuredID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by insured: %w", err)
	}
	return appts, nil
}

// Complete is the fulfillment signal: CONFIRMED -> COMPLETED.
func (s *Service) Complete(ctx context.Context, id string) (*Appointment, error) {
	return s.apply(ctx, id, (*Appointment).Complete)
}

func (s *Service) Cancel(ctx context.Context, id string) (*Appointment, error) {
	return s.apply(ctx, id, (*Appointment).Cancel)
}

func (s *Service) apply(ctx context.Context, id string, transition func(*Appointment) error) (*Appointment, error) {
	appt, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	from := appt.Status()
	if err := transition(appt); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, appt, from); err != nil {
		return nil, fmt.Errorf("update appointment %s: %w", id, err)
	}

	s.metrics.ObserveTransition(string(from), string(appt.Status()))
	s.logger.Info("appointment status changed",
		zap.String("appointment_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(appt.Status())),
	)
	return appt, nil
}

// ReconcilePending re-publishes the creation event of appointments that have
// stayed PENDING longer than the configured threshold. Intended to be called
// by the reconcile worker periodically.
func (s *Service) ReconcilePending(ctx context.Context) (int, error) {
	cutoff := s.clock().Add(-s.cfg.ReconcileStaleAfter)
	stale, err := s.store.FindStalePending(ctx, cutoff, s.cfg.ReconcileBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	republished := 0
	for _, appt := range stale {
		if err := s.publishCreated(ctx, appt); err != nil {
			s.metrics.ObservePublishFailure(EventCreated)
			s.logger.Error("failed to republish created event",
				zap.String("appointment_id", appt.ID()),
				zap.Error(err),
			)
			continue
		}
		republished++
	}

	s.metrics.ObserveRepublished(republished)
	return republished, nil
}
