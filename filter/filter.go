// Package filter implements the pluggable request/response mutation
// pipeline: a compile-time registry of named filters, instantiated once per
// Connection Pair and invoked in the order of the configured name list.
//
// This replaces predoxy's on-disk `.so` module discovery
// (pipeline/plugin_types.go via the stdlib `plugin` package) with a static
// registry: filters are compiled in rather than dynamically loaded.
package filter

import (
	"net"

	"github.com/allegro/bigcache/v3"

	"github.com/achetronic/ldapdoxy/codec"
)

// Params is passed to every filter invocation. LocalCache is that filter's
// own scratch cache, looked up by filter name from the pool passed to
// NewRunner — predoxy's api.PluginParams.LocalCache, drawn from
// api.PluginCache.LocalCachePool[pluginName]. It is nil for a filter name
// absent from the pool; filters must tolerate a nil LocalCache.
type Params struct {
	Source     net.Conn
	Dest       net.Conn
	LocalCache *bigcache.BigCache
}

// In is the interface an in-filter instance must implement. It is invoked
// on every decoded client request before cache lookup and before
// forwarding upstream. It must not mutate msg.MessageID; Runner enforces
// this regardless by restoring it after every call.
type In interface {
	Filter(params *Params, msg *codec.Message) error
}

// Out is the interface an out-filter instance must implement. It is
// invoked on each searchResEntry and searchResRef only — never on
// searchResDone, and never on bind or other responses.
type Out interface {
	Filter(params *Params, msg *codec.Message) error
}

// Factory builds one fresh filter instance, called once per Connection Pair
// per registered filter so that filters may hold per-connection state.
type Factory func() interface{}

var (
	inRegistry  = map[string]Factory{}
	outRegistry = map[string]Factory{}
)

// RegisterIn adds an in-filter factory to the static registry under name.
// Called from filter package init() functions, e.g. rewritebinddn's.
func RegisterIn(name string, f Factory) { inRegistry[name] = f }

// RegisterOut adds an out-filter factory to the static registry under name.
func RegisterOut(name string, f Factory) { outRegistry[name] = f }

// BuildIn instantiates the named in-filters, in the order given, failing if
// any name is unregistered — misconfiguration should surface at startup,
// not silently drop a filter from the pipeline.
func BuildIn(names []string) ([]In, error) {
	out := make([]In, 0, len(names))
	for _, name := range names {
		factory, ok := inRegistry[name]
		if !ok {
			return nil, &UnknownFilterError{Name: name, Direction: "in"}
		}
		inst, ok := factory().(In)
		if !ok {
			return nil, &UnknownFilterError{Name: name, Direction: "in"}
		}
		out = append(out, inst)
	}
	return out, nil
}

// BuildOut instantiates the named out-filters, in the order given.
func BuildOut(names []string) ([]Out, error) {
	out := make([]Out, 0, len(names))
	for _, name := range names {
		factory, ok := outRegistry[name]
		if !ok {
			return nil, &UnknownFilterError{Name: name, Direction: "out"}
		}
		inst, ok := factory().(Out)
		if !ok {
			return nil, &UnknownFilterError{Name: name, Direction: "out"}
		}
		out = append(out, inst)
	}
	return out, nil
}

// UnknownFilterError is returned by BuildIn/BuildOut for a name absent from
// the compiled-in registry.
type UnknownFilterError struct {
	Name      string
	Direction string
}

func (e *UnknownFilterError) Error() string {
	return "ldapdoxy: unknown " + e.Direction + "-filter " + e.Name
}
