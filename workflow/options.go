package workflow

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := workflow.New(st, catalog, emitter,
//	    workflow.WithAuthorizer(workflow.NewStaticAdmins("admin-1")),
//	    workflow.WithPolicy(workflow.WorkflowTypeMeeting, workflow.ParallelRunPolicy),
//	    workflow.WithLogger(logger),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	authorizer    Authorizer
	metrics       *PrometheusMetrics
	logger        *zap.Logger
	clock         func() time.Time
	newID         func() string
	defaultPolicy RunPolicy
	policies      map[WorkflowType]RunPolicy
}

func defaultConfig() engineConfig {
	return engineConfig{
		authorizer:    denyAll{},
		logger:        zap.NewNop(),
		clock:         func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
		defaultPolicy: DefaultRunPolicy,
		policies:      make(map[WorkflowType]RunPolicy),
	}
}

// WithAuthorizer sets the capability collaborator consulted for skip and for
// editable-field overrides. Default: nobody has admin capability.
func WithAuthorizer(a Authorizer) Option {
	return func(cfg *engineConfig) error {
		if a == nil {
			return errors.New("authorizer cannot be nil")
		}
		cfg.authorizer = a
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithLogger sets the diagnostic logger. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *engineConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithClock overrides the time source. Timestamps are stored in UTC.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = func() time.Time { return now().UTC() }
		return nil
	}
}

// WithIDGenerator overrides id generation. Default: random UUIDs.
func WithIDGenerator(newID func() string) Option {
	return func(cfg *engineConfig) error {
		if newID == nil {
			return errors.New("id generator cannot be nil")
		}
		cfg.newID = newID
		return nil
	}
}

// WithDefaultPolicy sets the policy for workflow types without an override.
func WithDefaultPolicy(p RunPolicy) Option {
	return func(cfg *engineConfig) error {
		cfg.defaultPolicy = p
		return nil
	}
}

// WithPolicy sets the run policy for one workflow type.
func WithPolicy(t WorkflowType, p RunPolicy) Option {
	return func(cfg *engineConfig) error {
		if t == "" {
			return errors.New("workflow type cannot be empty")
		}
		cfg.policies[t] = p
		return nil
	}
}
