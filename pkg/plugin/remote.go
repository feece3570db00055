package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chive/pluginrt/internal/tracing"
	"github.com/chive/pluginrt/pkg/eventbus"
	"github.com/chive/pluginrt/pkg/sandbox"
)

// ProcessBound is implemented by plugins backed by an external process. The
// manager binds the process to the plugin's sandbox so disposal kills it.
type ProcessBound interface {
	Process() sandbox.Process
}

// remotePlugin adapts a Remote to the Plugin contract. Subscriptions the
// process asks for are registered through the plugin's scoped bus, so the
// hook allow-list applies to them like to any builtin.
type remotePlugin struct {
	*Base
	remote  Remote
	process sandbox.Process
	logger  zerolog.Logger
}

func newRemotePlugin(manifest *Manifest, remote Remote, process sandbox.Process, logger zerolog.Logger) *remotePlugin {
	return &remotePlugin{
		Base:    NewBase(manifest),
		remote:  remote,
		process: process,
		logger:  logger.With().Str("plugin", manifest.ID).Logger(),
	}
}

func (r *remotePlugin) Process() sandbox.Process {
	return r.process
}

func (r *remotePlugin) Initialize(ctx context.Context, pctx *Context) error {
	r.SetState(StateInitializing)

	cfg, err := json.Marshal(pctx.Config)
	if err != nil {
		r.SetState(StateError)
		return fmt.Errorf("encode config: %w", err)
	}

	resp, err := r.remote.Initialize(InitializeRequest{
		PluginID: r.ID(),
		Config:   cfg,
		Hooks:    r.Manifest().Hooks(),
	})
	if err != nil {
		r.SetState(StateError)
		return err
	}

	for _, pattern := range resp.Subscriptions {
		if _, err := pctx.EventBus.On(pattern, r.forward(pctx)); err != nil {
			r.SetState(StateError)
			return err
		}
	}

	if err := r.publish(ctx, pctx, resp.Emissions); err != nil {
		r.SetState(StateError)
		return err
	}

	r.SetState(StateReady)
	return nil
}

func (r *remotePlugin) Shutdown(ctx context.Context) error {
	r.SetState(StateShuttingDown)
	err := r.remote.Shutdown()
	r.SetState(StateShutdown)
	return err
}

// forward returns the handler that relays a bus event into the process.
func (r *remotePlugin) forward(pctx *Context) eventbus.Handler {
	return func(ctx context.Context, evt eventbus.Event) error {
		wire, err := toWire(ctx, evt)
		if err != nil {
			return err
		}

		emissions, err := r.remote.HandleEvent(wire)
		if err != nil {
			return err
		}
		return r.publish(ctx, pctx, emissions)
	}
}

// publish emits what the process produced through the scoped bus.
func (r *remotePlugin) publish(ctx context.Context, pctx *Context, emissions []WireEvent) error {
	var errs []error
	for _, e := range emissions {
		payload, err := fromWire(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("emission %s: %w", e.Topic, err))
			continue
		}
		emitCtx := ctx
		if len(e.Trace) > 0 {
			emitCtx = tracing.FromCarrier(ctx, e.Trace)
		}
		if err := pctx.EventBus.Emit(emitCtx, e.Topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func toWire(ctx context.Context, evt eventbus.Event) (WireEvent, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return WireEvent{}, fmt.Errorf("encode payload for %s: %w", evt.Topic, err)
	}
	return WireEvent{
		Topic:     evt.Topic,
		Payload:   payload,
		Timestamp: evt.Timestamp,
		Trace:     tracing.Carrier(ctx),
	}, nil
}

func fromWire(e WireEvent) (any, error) {
	if len(e.Payload) == 0 {
		return nil, nil
	}
	var payload any
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// NewWireEvent builds a WireEvent from a Go value. Plugin processes written in
// Go use it to produce emissions.
func NewWireEvent(topic string, payload any) (WireEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return WireEvent{}, err
	}
	return WireEvent{Topic: topic, Payload: data, Timestamp: time.Now()}, nil
}
