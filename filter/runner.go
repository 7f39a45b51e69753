package filter

import (
	"bytes"
	"net"

	"github.com/allegro/bigcache/v3"
	"go.uber.org/zap"

	"github.com/achetronic/ldapdoxy/codec"
	"github.com/achetronic/ldapdoxy/metrics"
)

// LocalCachePool hands each named filter its own bigcache instance,
// mirroring predoxy's api.PluginCache.LocalCachePool[pluginName]: filters
// never share scratch state with each other, only with themselves across
// invocations on the same pair.
type LocalCachePool map[string]*bigcache.BigCache

// Runner owns one instance of every configured filter for a single
// connection pair, and applies the pipeline error policy: a filter that
// errors is logged, counted and skipped, and the pair is only torn down when
// filtervalidate is enabled and the post-filter message fails to re-encode.
// Only MessageID is restored after an erroring filter; any other change it
// made to msg before returning its error is kept.
type Runner struct {
	inNames  []string
	in       []In
	outNames []string
	out      []Out

	log      *zap.SugaredLogger
	validate bool
	metrics  *metrics.Metrics
	cache    LocalCachePool
}

// NewRunner builds one filter instance per name for this pair. cache may be
// nil, or missing entries for some names, if bigcache construction is
// disabled or failed for that filter; filters must tolerate a nil
// Params.LocalCache. m may be nil.
func NewRunner(inNames, outNames []string, validate bool, log *zap.SugaredLogger, cache LocalCachePool, m *metrics.Metrics) (*Runner, error) {
	ins, err := BuildIn(inNames)
	if err != nil {
		return nil, err
	}
	outs, err := BuildOut(outNames)
	if err != nil {
		return nil, err
	}
	return &Runner{
		inNames: inNames, in: ins,
		outNames: outNames, out: outs,
		log: log, validate: validate, metrics: m, cache: cache,
	}, nil
}

// RunIn applies every in-filter to msg, in configured order. It never
// returns an error for a single filter's failure; the only error path is
// filtervalidate catching a corrupted re-encode, which callers must treat
// as fatal to the pair.
func (r *Runner) RunIn(source, dest net.Conn, msg *codec.Message) error {
	for i, f := range r.in {
		params := &Params{Source: source, Dest: dest, LocalCache: r.cache[r.inNames[i]]}
		if err := r.guard("in", msg, func() error { return f.Filter(params, msg) }); err != nil {
			return err
		}
	}
	return nil
}

// RunOut applies every out-filter to msg. Callers must only invoke this for
// searchResEntry/searchResRef messages.
func (r *Runner) RunOut(source, dest net.Conn, msg *codec.Message) error {
	for i, f := range r.out {
		params := &Params{Source: source, Dest: dest, LocalCache: r.cache[r.outNames[i]]}
		if err := r.guard("out", msg, func() error { return f.Filter(params, msg) }); err != nil {
			return err
		}
	}
	return nil
}

// guard invokes one filter, unconditionally restoring msg.MessageID
// afterward and applying the filtervalidate re-encode check.
func (r *Runner) guard(direction string, msg *codec.Message, invoke func() error) error {
	originalID := msg.MessageID
	err := invoke()
	msg.MessageID = originalID

	if err != nil {
		if r.log != nil {
			r.log.Warnw("filter raised an error, skipping it", "direction", direction, "error", err)
		}
		if r.metrics != nil {
			r.metrics.FilterErrorsTotal.WithLabelValues(direction).Inc()
		}
		return nil
	}

	if r.validate {
		if _, encErr := roundTrip(msg); encErr != nil {
			return &CorruptedEncodingError{Cause: encErr}
		}
	}
	return nil
}

// roundTrip re-encodes and re-decodes msg to check that a filter's mutation
// still produces valid BER.
func roundTrip(msg *codec.Message) (*codec.Message, error) {
	wire := codec.Encode(msg, msg.MessageID)
	packet, err := codec.ReadFrame(bytes.NewReader(wire))
	if err != nil {
		return nil, err
	}
	return codec.Decode(packet)
}

// CorruptedEncodingError is fatal to the connection pair, raised only when
// filtervalidate is enabled and a filter's mutation fails to re-encode.
type CorruptedEncodingError struct {
	Cause error
}

func (e *CorruptedEncodingError) Error() string {
	return "ldapdoxy: filter corrupted message encoding: " + e.Cause.Error()
}

func (e *CorruptedEncodingError) Unwrap() error { return e.Cause }
