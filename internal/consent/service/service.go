package service

import (
	"context"
	"log/slog"
	"time"

	"healthshare/internal/audit"
	"healthshare/internal/consent/metrics"
	"healthshare/internal/consent/models"
	"healthshare/internal/consent/store"
	"healthshare/internal/notifier"
	"healthshare/internal/tracer"
	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

// Service orchestrates consent mutations: it validates input, drives the
// store (which enforces the ownership policy), and fans out audit events and
// change notifications after a successful write.
//
// The service never retries: conflict and forbidden failures are terminal for
// the triggering operation and surface to the caller unchanged.
type Service struct {
	store    store.Store
	notifier notifier.Notifier
	auditor  *audit.Publisher
	metrics  *metrics.Metrics
	tracer   tracer.Tracer
	logger   *slog.Logger
}

type Option func(*Service)

// WithMetrics sets the metrics instance for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier sets the change notifier mutations fan out to.
func WithNotifier(n notifier.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithAuditor sets the audit publisher.
func WithAuditor(a *audit.Publisher) Option {
	return func(s *Service) { s.auditor = a }
}

// WithTracer sets the tracer wrapping each operation.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func NewService(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:  st,
		logger: logger,
		tracer: tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Add inserts a new consent record, preserving the caller-generated ID so an
// optimistic client mirror and the persisted row agree on identity. The
// record starts unapproved unless the request path approves at creation.
func (s *Service) Add(ctx context.Context, principal id.UserID, record *models.Record) (result *models.Record, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanConsentAdd,
		tracer.String(tracer.AttrOwnerID, record.OwnerID.String()),
		tracer.String(tracer.AttrProviderID, record.ProviderID.String()),
	)
	defer func() { span.End(err) }()
	defer s.observeLatency("add", time.Now())

	if principal.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing user context")
	}
	if err := s.store.Create(ctx, principal, record); err != nil {
		return nil, err
	}

	s.emitAudit(ctx, audit.Event{
		UserID:     record.OwnerID,
		ProviderID: record.ProviderID,
		Action:     models.AuditActionConsentCreated,
		Decision:   models.AuditDecisionGranted,
		Reason:     models.AuditReasonUserInitiated,
	})
	s.publish(ctx, notifier.Event{Op: notifier.OpInsert, Record: record.Clone()})
	if s.metrics != nil {
		s.metrics.IncrementCreated()
		if !record.Approved {
			s.metrics.AddPending(1)
		}
	}
	return record, nil
}

// Upsert creates or merges the (principal, provider) record, last write wins
// per supplied field set.
func (s *Service) Upsert(ctx context.Context, principal id.UserID, providerID id.ProviderID, flags models.Flags) (result *models.Record, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanConsentUpsert,
		tracer.String(tracer.AttrOwnerID, principal.String()),
		tracer.String(tracer.AttrProviderID, providerID.String()),
	)
	defer func() { span.End(err) }()
	defer s.observeLatency("upsert", time.Now())

	if principal.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing user context")
	}
	if providerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "provider ID required")
	}

	record, err := s.store.Upsert(ctx, principal, providerID, flags)
	if err != nil {
		return nil, err
	}

	created := record.CreatedAt.Equal(record.UpdatedAt)
	action := models.AuditActionConsentUpdated
	decision := models.AuditDecisionUpdated
	op := notifier.OpUpdate
	if created {
		action = models.AuditActionConsentCreated
		decision = models.AuditDecisionGranted
		op = notifier.OpInsert
	}
	s.emitAudit(ctx, audit.Event{
		UserID:     record.OwnerID,
		ProviderID: record.ProviderID,
		Action:     action,
		Decision:   decision,
		Reason:     models.AuditReasonUserInitiated,
	})
	s.publish(ctx, notifier.Event{Op: op, Record: record.Clone()})
	if s.metrics != nil {
		if created {
			s.metrics.IncrementCreated()
			if !record.Approved {
				s.metrics.AddPending(1)
			}
		} else {
			s.metrics.IncrementUpdated()
		}
	}
	return record, nil
}

// Decide resolves a pending request: approval flips the record's Approved
// flag; denial deletes the record after writing the denial to the audit
// trail, which is the system of record for denials.
//
// Returns the updated record on approval, nil on denial.
func (s *Service) Decide(ctx context.Context, principal id.UserID, consentID id.ConsentID, approved bool) (result *models.Record, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanConsentDecide,
		tracer.String(tracer.AttrOwnerID, principal.String()),
		tracer.Bool(tracer.AttrApproved, approved),
	)
	defer func() { span.End(err) }()
	defer s.observeLatency("decide", time.Now())

	if principal.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing user context")
	}

	if approved {
		record, err := s.store.UpdateApproval(ctx, principal, consentID, true)
		if err != nil {
			return nil, err
		}
		s.emitAudit(ctx, audit.Event{
			UserID:     record.OwnerID,
			ProviderID: record.ProviderID,
			Action:     models.AuditActionConsentApproved,
			Decision:   models.AuditDecisionGranted,
			Reason:     models.AuditReasonUserInitiated,
		})
		s.publish(ctx, notifier.Event{Op: notifier.OpUpdate, Record: record.Clone()})
		if s.metrics != nil {
			s.metrics.IncrementApproved()
			s.metrics.AddPending(-1)
		}
		return record, nil
	}

	record, err := s.store.Delete(ctx, principal, consentID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		// Denying an already-absent request converges; nothing to announce.
		return nil, nil
	}
	s.emitAudit(ctx, audit.Event{
		UserID:     record.OwnerID,
		ProviderID: record.ProviderID,
		Action:     models.AuditActionConsentDenied,
		Decision:   models.AuditDecisionDenied,
		Reason:     models.AuditReasonUserInitiated,
	})
	s.publish(ctx, notifier.Event{Op: notifier.OpDelete, Record: record.Clone()})
	if s.metrics != nil {
		s.metrics.IncrementDenied()
		if !record.Approved {
			s.metrics.AddPending(-1)
		}
	}
	return nil, nil
}

// Remove deletes a consent record (user removes a provider). Idempotent:
// removing an absent record succeeds without side effects.
func (s *Service) Remove(ctx context.Context, principal id.UserID, consentID id.ConsentID) (err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanConsentRemove,
		tracer.String(tracer.AttrOwnerID, principal.String()),
	)
	defer func() { span.End(err) }()
	defer s.observeLatency("remove", time.Now())

	if principal.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "missing user context")
	}

	record, err := s.store.Delete(ctx, principal, consentID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}
	s.emitAudit(ctx, audit.Event{
		UserID:     record.OwnerID,
		ProviderID: record.ProviderID,
		Action:     models.AuditActionConsentDeleted,
		Decision:   models.AuditDecisionDeleted,
		Reason:     models.AuditReasonUserInitiated,
	})
	s.publish(ctx, notifier.Event{Op: notifier.OpDelete, Record: record.Clone()})
	if s.metrics != nil {
		s.metrics.IncrementDeleted()
		if !record.Approved {
			s.metrics.AddPending(-1)
		}
	}
	return nil
}

// List returns all of the principal's consent records.
func (s *Service) List(ctx context.Context, principal id.UserID) (records []*models.Record, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanConsentList,
		tracer.String(tracer.AttrOwnerID, principal.String()),
	)
	defer func() { span.End(err) }()

	if principal.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing user context")
	}
	records, err = s.store.ListByOwner(ctx, principal, principal)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveRecordsPerOwner(float64(len(records)))
	}
	return records, nil
}

// PurgeOwner deletes every consent record the principal owns (account
// deletion cascade). Each deleted record produces a delete event so other
// sessions converge.
func (s *Service) PurgeOwner(ctx context.Context, principal id.UserID) (err error) {
	defer s.observeLatency("purge", time.Now())

	if principal.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "missing user context")
	}
	deleted, err := s.store.DeleteByOwner(ctx, principal)
	if err != nil {
		return err
	}
	for _, record := range deleted {
		s.publish(ctx, notifier.Event{Op: notifier.OpDelete, Record: record.Clone()})
		if s.metrics != nil {
			s.metrics.IncrementDeleted()
			if !record.Approved {
				s.metrics.AddPending(-1)
			}
		}
	}
	s.emitAudit(ctx, audit.Event{
		UserID:   principal,
		Action:   models.AuditActionOwnerPurged,
		Decision: models.AuditDecisionDeleted,
		Reason:   models.AuditReasonUserInitiated,
	})
	return nil
}

// Audit returns the principal's audit trail.
func (s *Service) Audit(ctx context.Context, principal id.UserID) ([]audit.Event, error) {
	if principal.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing user context")
	}
	if s.auditor == nil {
		return nil, nil
	}
	return s.auditor.List(ctx, principal)
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	_ = s.auditor.Emit(ctx, event)
}

// publish fans a change event out after a committed write. Publish failures
// do not fail the mutation: subscribers reconcile via refetch, and the error
// is logged rather than masking a successful write.
func (s *Service) publish(ctx context.Context, event notifier.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, event); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to publish change event",
			"error", err,
			"op", event.Op,
			"owner_id", event.Record.OwnerID,
		)
	}
}

func (s *Service) observeLatency(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveMutationLatency(operation, time.Since(start).Seconds())
	}
}
