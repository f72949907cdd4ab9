package decision

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mtaha-9646/schedules-covers/pkg/apps"
	"github.com/mtaha-9646/schedules-covers/pkg/audit"
	"github.com/mtaha-9646/schedules-covers/pkg/flags"
	"github.com/mtaha-9646/schedules-covers/pkg/grants"
	"github.com/mtaha-9646/schedules-covers/pkg/identity"
)

var decisionTracer = otel.Tracer("controlplane/decision/service")

// TenantSource supplies tenant lookups, implemented by identity.Store
type TenantSource interface {
	GetTenant(ctx context.Context, tenantID string) (*identity.Tenant, error)
}

// EnablementGate answers whether an app is reachable for a tenant,
// implemented by apps.Gate
type EnablementGate interface {
	IsAppEnabled(ctx context.Context, tenantID, appKey string) (apps.Enablement, error)
}

// PermissionResolver computes effective permission sets, implemented
// by grants.Resolver
type PermissionResolver interface {
	EffectivePermissions(ctx context.Context, userID, tenantID, appKey string) (grants.PermissionSet, error)
	EffectivePlatformPermissions(ctx context.Context, userID string) (grants.PermissionSet, error)
}

// AuditAppender records the trail, implemented by audit.Recorder
type AuditAppender interface {
	Append(ctx context.Context, entry *audit.Entry) error
}

// FlagEvaluator evaluates feature flags, implemented by flags.Evaluator
type FlagEvaluator interface {
	IsEnabled(ctx context.Context, flagKey string, evalCtx flags.EvalContext) (bool, error)
}

// Service is the single authorization entry point. Every answer is an
// explicit allow or a deny with a reason; no failure mode produces an
// implicit allow.
type Service struct {
	tenants  TenantSource
	gate     EnablementGate
	resolver PermissionResolver
	flags    FlagEvaluator
	recorder AuditAppender
	metrics  *Metrics
	logger   *logrus.Logger
}

// NewService creates the decision service
func NewService(tenants TenantSource, gate EnablementGate, resolver PermissionResolver, evaluator FlagEvaluator, recorder AuditAppender, metrics *Metrics, logger *logrus.Logger) *Service {
	return &Service{
		tenants:  tenants,
		gate:     gate,
		resolver: resolver,
		flags:    evaluator,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
	}
}

// Decide answers one authorization question. Checks run in a fixed
// order, each an early exit: tenant lifecycle, app enablement, then
// effective permissions. Any store failure denies with
// store_unavailable rather than erroring.
//
// For an allowed state-changing request the audit entry is appended
// before the allow is returned, so a caller following decide-then-act
// cannot change state without a trail. An append failure denies.
func (s *Service) Decide(ctx context.Context, req Request) Decision {
	ctx, span := decisionTracer.Start(ctx, "Decide",
		trace.WithAttributes(
			attribute.String("tenant_id", req.TenantID),
			attribute.String("app_key", req.AppKey),
			attribute.String("permission", req.Permission),
		),
	)
	defer span.End()

	start := time.Now()
	d := s.decide(ctx, req)
	s.metrics.observe(d, start)
	span.SetAttributes(
		attribute.Bool("allowed", d.Allowed),
		attribute.String("reason", string(d.Reason)),
	)

	if !d.Allowed {
		s.logger.WithFields(logrus.Fields{
			"user_id":    req.Subject.UserID,
			"tenant_id":  req.TenantID,
			"app_key":    req.AppKey,
			"permission": req.Permission,
			"reason":     d.Reason,
		}).Info("authorization denied")
	}

	return d
}

func (s *Service) decide(ctx context.Context, req Request) Decision {
	if req.Subject.UserID == "" || req.Permission == "" {
		return Deny(ReasonInsufficientPermission)
	}

	tenant, err := s.tenants.GetTenant(ctx, req.TenantID)
	if errors.Is(err, identity.ErrNotFound) {
		return Deny(ReasonTenantInactive)
	}
	if err != nil {
		return s.storeUnavailable(req, "tenant lookup", err)
	}
	if !tenant.IsActive() {
		return Deny(ReasonTenantInactive)
	}

	enablement, err := s.gate.IsAppEnabled(ctx, req.TenantID, req.AppKey)
	if errors.Is(err, apps.ErrNotFound) {
		return Deny(ReasonAppDisabled)
	}
	if err != nil {
		return s.storeUnavailable(req, "enablement gate", err)
	}
	if !enablement.Enabled {
		return Deny(ReasonAppDisabled)
	}

	set, err := s.resolver.EffectivePermissions(ctx, req.Subject.UserID, req.TenantID, req.AppKey)
	if err != nil {
		return s.storeUnavailable(req, "grant resolution", err)
	}
	if !set.Has(req.Permission) {
		return Deny(ReasonInsufficientPermission)
	}

	if req.StateChanging {
		if err := s.appendTrail(ctx, req); err != nil {
			return s.storeUnavailable(req, "audit append", err)
		}
	}

	d := Allow()
	d.Flags = s.evaluateFlags(ctx, req)
	return d
}

// DecidePlatform answers an authorization question with no tenant
// context, for platform administration such as creating tenants or
// mutating the role catalog. Only platform-scoped grants count.
func (s *Service) DecidePlatform(ctx context.Context, req Request) Decision {
	ctx, span := decisionTracer.Start(ctx, "DecidePlatform",
		trace.WithAttributes(attribute.String("permission", req.Permission)),
	)
	defer span.End()

	start := time.Now()
	d := s.decidePlatform(ctx, req)
	s.metrics.observe(d, start)
	span.SetAttributes(
		attribute.Bool("allowed", d.Allowed),
		attribute.String("reason", string(d.Reason)),
	)

	if !d.Allowed {
		s.logger.WithFields(logrus.Fields{
			"user_id":    req.Subject.UserID,
			"permission": req.Permission,
			"reason":     d.Reason,
		}).Info("platform authorization denied")
	}

	return d
}

func (s *Service) decidePlatform(ctx context.Context, req Request) Decision {
	if req.Subject.UserID == "" || req.Permission == "" {
		return Deny(ReasonInsufficientPermission)
	}

	set, err := s.resolver.EffectivePlatformPermissions(ctx, req.Subject.UserID)
	if err != nil {
		return s.storeUnavailable(req, "platform grant resolution", err)
	}
	if !set.Has(req.Permission) {
		return Deny(ReasonInsufficientPermission)
	}

	if req.StateChanging {
		if err := s.appendTrail(ctx, req); err != nil {
			return s.storeUnavailable(req, "audit append", err)
		}
	}

	return Allow()
}

func (s *Service) appendTrail(ctx context.Context, req Request) error {
	action := req.Action
	if action == "" {
		action = audit.ActionDecisionAllow
	}

	entry := &audit.Entry{
		ActorID:    req.Subject.UserID,
		ActorEmail: req.Subject.Email,
		TenantID:   req.TenantID,
		Action:     action,
		Origin:     req.Origin,
		Metadata: map[string]any{
			"permission":     req.Permission,
			"app_key":        req.AppKey,
			"state_changing": true,
		},
	}
	if req.Target != nil {
		entry.TargetType = req.Target.Type
		entry.TargetID = req.Target.ID
	}

	err := s.recorder.Append(ctx, entry)
	s.metrics.observeAudit(err)
	return err
}

func (s *Service) evaluateFlags(ctx context.Context, req Request) map[string]bool {
	if len(req.FlagKeys) == 0 || s.flags == nil {
		return nil
	}

	evalCtx := flags.EvalContext{
		TenantID: req.TenantID,
		UserID:   req.Subject.UserID,
	}

	out := make(map[string]bool, len(req.FlagKeys))
	for _, key := range req.FlagKeys {
		enabled, err := s.flags.IsEnabled(ctx, key, evalCtx)
		if err != nil {
			// a flag that cannot be evaluated is off
			s.logger.WithError(err).WithField("flag", key).Warn("flag evaluation failed")
			enabled = false
		}
		out[key] = enabled
	}
	return out
}

func (s *Service) storeUnavailable(req Request, stage string, err error) Decision {
	s.logger.WithError(err).WithFields(logrus.Fields{
		"user_id":   req.Subject.UserID,
		"tenant_id": req.TenantID,
		"app_key":   req.AppKey,
		"stage":     stage,
	}).Error("decision store unavailable, failing closed")

	return Deny(ReasonStoreUnavailable)
}
