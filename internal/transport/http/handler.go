package httptransport

import (
	"errors"
	"net/http"

	"propmock/internal/domain/auth"
	"propmock/internal/domain/chaos"
	"propmock/internal/domain/docstore"
	"propmock/internal/platform/observability"
)

// Deps are the domain objects the route table is built from.
type Deps struct {
	Store *docstore.Store
	Auth  *auth.Service
	Chaos *chaos.Controller
	// Resources are the collections exposed as REST resources.
	Resources []string
	// RequireToken guards resource routes with the bearer middleware.
	RequireToken bool
	Recorder     *observability.Recorder
	// Events serves the live event feed at /__mock/events when set.
	Events http.HandlerFunc
	// Listeners reports the number of connected feed clients.
	Listeners func() int
	// DroppedEvents reports events discarded by the event bus.
	DroppedEvents func() int64
}

// New builds the complete mock backend handler: every route from Routes
// behind the chaos gate, plus the control surface.
func New(deps Deps, opts Options) (*Router, error) {
	if deps.Store == nil || deps.Auth == nil || deps.Chaos == nil {
		return nil, errors.New("httptransport: store, auth and chaos are required")
	}
	if opts.Recorder == nil {
		opts.Recorder = deps.Recorder
	}
	if deps.Recorder == nil {
		deps.Recorder = opts.Recorder
	}

	router, err := Build(opts)
	if err != nil {
		return nil, err
	}

	router.API.Use(chaosGate(deps.Chaos, deps.Recorder))
	guard := bearer(deps.Auth)
	for _, route := range Routes(deps) {
		if route.Protected {
			router.API.Handle(route.Method, route.Pattern, guard, route.Resolver)
			continue
		}
		router.API.Handle(route.Method, route.Pattern, route.Resolver)
	}

	control{
		store:     deps.Store,
		chaos:     deps.Chaos,
		recorder:  deps.Recorder,
		listeners: deps.Listeners,
		dropped:   deps.DroppedEvents,
	}.register(router.Control, deps.Events)

	return router, nil
}

// Handler returns the router as a plain http.Handler.
func (r *Router) Handler() http.Handler {
	return r.Engine
}
