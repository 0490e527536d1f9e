package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// ResilientConfig tunes ResilientStore.
type ResilientConfig struct {
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// DefaultResilientConfig returns production defaults.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout:          3 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
		HalfOpenRequests: 1,
	}
}

// ResilientStore bounds every store call with a timeout and trips a circuit
// breaker on repeated failures. Timeouts, connection failures and an open
// breaker all surface as shared.ErrTransientStore, never as allow or deny.
type ResilientStore struct {
	next    Store
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[any]
}

// NewResilientStore wraps next.
func NewResilientStore(next Store, cfg ResilientConfig) *ResilientStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultResilientConfig().Timeout
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultResilientConfig().FailureThreshold
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "rbac-store",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, shared.ErrNotFound) || errors.Is(err, context.Canceled)
		},
	})
	return &ResilientStore{next: next, timeout: cfg.Timeout, breaker: breaker}
}

// FindUser implements Store.
func (s *ResilientStore) FindUser(ctx context.Context, id string) (Subject, error) {
	v, err := s.execute(ctx, func(ctx context.Context) (any, error) {
		return s.next.FindUser(ctx, id)
	})
	if err != nil {
		return Subject{}, err
	}
	return v.(Subject), nil
}

// FindRoleWithPermissions implements Store.
func (s *ResilientStore) FindRoleWithPermissions(ctx context.Context, roleID int64) (RoleWithPermissions, error) {
	v, err := s.execute(ctx, func(ctx context.Context) (any, error) {
		return s.next.FindRoleWithPermissions(ctx, roleID)
	})
	if err != nil {
		return RoleWithPermissions{}, err
	}
	return v.(RoleWithPermissions), nil
}

// State exposes the breaker state for health reporting.
func (s *ResilientStore) State() string {
	return s.breaker.State().String()
}

func (s *ResilientStore) execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	v, err := s.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return fn(callCtx)
	})
	if err == nil {
		return v, nil
	}
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %w", shared.ErrTransientStore, err)
	case errors.Is(err, shared.ErrTransientStore), errors.Is(err, shared.ErrNotFound):
		return nil, err
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %w", shared.ErrTransientStore, err)
	}
	return nil, err
}
