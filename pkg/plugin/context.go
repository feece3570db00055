package plugin

import (
	"github.com/rs/zerolog"

	"github.com/chive/pluginrt/pkg/cache"
	"github.com/chive/pluginrt/pkg/eventbus"
)

// Metrics is the metrics surface handed to a plugin. Series are labelled with
// the plugin id by the host.
type Metrics interface {
	Inc(name string)
	Add(name string, delta float64)
	Observe(name string, value float64)
}

// Context is everything a plugin receives at Initialize. It is rebuilt on
// every load and torn down on unload.
type Context struct {
	Logger   zerolog.Logger
	Cache    cache.Cache
	Metrics  Metrics
	EventBus *eventbus.Scoped
	Config   map[string]any
}

// teardown releases everything the context placed on shared infrastructure.
func (c *Context) teardown() {
	if c == nil {
		return
	}
	if c.EventBus != nil {
		c.EventBus.Cleanup()
	}
	if c.Cache != nil {
		c.Cache.Purge()
	}
}
