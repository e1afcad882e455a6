// Package gate implements the access-control check that stands between
// callers and the broker. Every dispatch passes through here first; a
// denied request never produces a broker frame.
package gate

import (
	"context"

	"github.com/haveloc/servehub/internal/core"
	"github.com/haveloc/servehub/internal/logging"
)

// Gate resolves servable references and enforces whitelist access.
type Gate struct {
	servables core.ServableStore
	logger    *logging.Logger
}

// Option configures the gate.
type Option func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(logger *logging.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New creates a gate over the servable store.
func New(servables core.ServableStore, opts ...Option) *Gate {
	g := &Gate{servables: servables, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check resolves a single servable reference into a dispatch target, or
// denies.
func (g *Gate) Check(ctx context.Context, id core.Identity, ref core.ServableRef) (core.Target, error) {
	if !id.Authenticated() {
		return core.Target{}, core.ErrAuthRequired()
	}
	servable, err := g.checkOne(ctx, id, ref)
	if err != nil {
		return core.Target{}, err
	}
	return core.SingleTarget(servable), nil
}

// CheckPipeline resolves an ordered list of references into a fan-out
// target. Every element is evaluated; one denial denies the whole
// pipeline.
func (g *Gate) CheckPipeline(ctx context.Context, id core.Identity, refs []core.ServableRef) (core.Target, error) {
	if !id.Authenticated() {
		return core.Target{}, core.ErrAuthRequired()
	}
	if len(refs) == 0 {
		return core.Target{}, core.ErrMalformedInput("pipeline requires at least one servable")
	}
	servables := make([]*core.Servable, 0, len(refs))
	for _, ref := range refs {
		servable, err := g.checkOne(ctx, id, ref)
		if err != nil {
			return core.Target{}, err
		}
		servables = append(servables, servable)
	}
	return core.FanoutTarget(servables), nil
}

func (g *Gate) checkOne(ctx context.Context, id core.Identity, ref core.ServableRef) (*core.Servable, error) {
	servable, err := g.servables.ResolveServable(ctx, ref)
	if err != nil {
		return nil, err
	}
	if servable.Status != core.ServableStatusReady {
		return nil, core.ErrServableNotFound(ref.String())
	}
	if !servable.Protected {
		return servable, nil
	}

	granted, err := g.servables.HasGrant(ctx, id.UserID, servable.UUID)
	if err != nil {
		return nil, err
	}
	if !granted {
		g.logger.Info("access denied",
			"user", id.Username,
			"servable", servable.Shorthand(),
		)
		return nil, core.ErrAccessDenied(ref.String())
	}
	return servable, nil
}
