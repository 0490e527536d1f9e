package rbac

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Decision outcomes recorded by DecisionObserver.
const (
	OutcomeAllow   = "allow"
	OutcomeDeny    = "deny"
	OutcomeUnauth  = "unauthenticated"
	OutcomeSelf    = "self_forbidden"
	OutcomeFailure = "error"
)

// DecisionObserver receives one observation per authorization decision.
type DecisionObserver interface {
	ObserveAuthzDecision(source, action, outcome string)
}

// Guard is the server-side authorization boundary. Every call re-resolves the
// actor from the store.
type Guard struct {
	resolver *Resolver
	logger   *slog.Logger
	observer DecisionObserver
}

// NewGuard constructs a Guard. observer may be nil.
func NewGuard(resolver *Resolver, logger *slog.Logger, observer DecisionObserver) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{resolver: resolver, logger: logger, observer: observer}
}

// Resolver exposes the underlying resolver.
func (g *Guard) Resolver() *Resolver {
	return g.resolver
}

// Authorize checks that id is an active user holding req.
func (g *Guard) Authorize(ctx context.Context, id Identity, req Requirement) error {
	subj, err := g.authenticate(ctx, id, req)
	if err != nil {
		return err
	}
	return g.check(ctx, subj, req)
}

// AuthorizeTarget is Authorize for operations on a user account. Acting on
// one's own account is rejected regardless of grants.
func (g *Guard) AuthorizeTarget(ctx context.Context, id Identity, req Requirement, targetUserID string) error {
	subj, err := g.authenticate(ctx, id, req)
	if err != nil {
		return err
	}
	if sameUser(targetUserID, subj.ID) {
		g.observe(req, OutcomeSelf)
		g.logger.WarnContext(ctx, "rbac self action rejected",
			slog.String("user_id", subj.ID), slog.String("requirement", req.String()))
		return shared.ErrSelfActionForbidden
	}
	return g.check(ctx, subj, req)
}

// sameUser compares user ids by value, so any spelling uuid.Parse accepts
// names the same account.
func sameUser(a, b string) bool {
	ua, errA := uuid.Parse(a)
	ub, errB := uuid.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ua == ub
}

// Authenticated returns the active subject behind id without checking grants.
func (g *Guard) Authenticated(ctx context.Context, id Identity) (Subject, error) {
	if !id.Authenticated() {
		return Subject{}, shared.ErrAuthenticationRequired
	}
	subj, err := g.resolver.Subject(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Subject{}, shared.ErrAuthenticationRequired
		}
		return Subject{}, err
	}
	if !subj.IsActive {
		return Subject{}, shared.ErrAuthenticationRequired
	}
	return subj, nil
}

func (g *Guard) authenticate(ctx context.Context, id Identity, req Requirement) (Subject, error) {
	subj, err := g.Authenticated(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrAuthenticationRequired) {
			g.observe(req, OutcomeUnauth)
		} else {
			g.observe(req, OutcomeFailure)
			g.logger.ErrorContext(ctx, "rbac load subject", slog.Any("error", err))
		}
		return Subject{}, err
	}
	return subj, nil
}

func (g *Guard) check(ctx context.Context, subj Subject, req Requirement) error {
	set, err := g.resolver.ResolveSubject(ctx, subj)
	if err != nil {
		g.observe(req, OutcomeFailure)
		g.logger.ErrorContext(ctx, "rbac resolve permissions", slog.Any("error", err))
		return err
	}
	if !set.Allows(req.Source, req.Action) {
		g.observe(req, OutcomeDeny)
		g.logger.WarnContext(ctx, "rbac permission denied",
			slog.String("user_id", subj.ID), slog.String("requirement", req.String()))
		return shared.ErrAuthorizationDenied
	}
	g.observe(req, OutcomeAllow)
	return nil
}

func (g *Guard) observe(req Requirement, outcome string) {
	if g.observer == nil {
		return
	}
	g.observer.ObserveAuthzDecision(string(req.Source), string(req.Action), outcome)
}
