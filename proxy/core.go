// Package proxy implements the accept loop, config-reload and idle-GC
// tickers, and per-pair request/response dispatch through the frame codec,
// filter runner and response cache.
//
// Grounded on predoxy's TCPProxy.Launch/handleRequest: one handleRequest
// goroutine per accepted connection, generalized from Redis RESP framing to
// LDAP BER framing and given explicit dependencies instead of predoxy's
// package-level Config/Cache fields.
package proxy

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/achetronic/ldapdoxy/cache"
	"github.com/achetronic/ldapdoxy/codec"
	"github.com/achetronic/ldapdoxy/config"
	"github.com/achetronic/ldapdoxy/filter"
	"github.com/achetronic/ldapdoxy/logging"
	"github.com/achetronic/ldapdoxy/metrics"
	"github.com/achetronic/ldapdoxy/proxypair"
)

// IdleGCInterval is how often the core checks for zero active pairs and, if
// so, purges expired cache entries.
const IdleGCInterval = 5 * time.Second

// UpstreamDialer opens a fresh upstream connection for one pair. Supplied
// by the caller so TLS material is resolved once at startup rather than on
// every dial.
type UpstreamDialer func() (net.Conn, error)

// FilterNames configures which registered in/out filters a new pair
// instantiates, and in what order.
type FilterNames struct {
	In  []string
	Out []string
}

// Core owns the shared response cache and the connection registry. The
// registry is guarded by Core's own mutex; the cache serializes its
// mutations under its own internal lock.
type Core struct {
	listener net.Listener
	dial     UpstreamDialer

	cache      *cache.Cache
	filters    FilterNames
	localCache filter.LocalCachePool
	live       *config.Live
	metrics    *metrics.Metrics
	log        *zap.SugaredLogger

	mu    sync.Mutex
	pairs map[*proxypair.Pair]struct{}
}

// New builds a Core ready to Run. cache, live and metrics must not be nil;
// log and localCache may be nil.
func New(listener net.Listener, dial UpstreamDialer, c *cache.Cache, filters FilterNames, localCache filter.LocalCachePool, live *config.Live, m *metrics.Metrics, log *zap.SugaredLogger) *Core {
	return &Core{
		listener:   listener,
		dial:       dial,
		cache:      c,
		filters:    filters,
		localCache: localCache,
		live:       live,
		metrics:    m,
		log:        log,
		pairs:      make(map[*proxypair.Pair]struct{}),
	}
}

// Run accepts connections until ctx is cancelled or the listener errors.
func (c *Core) Run(ctx context.Context) error {
	go c.backgroundLoop(ctx)

	go func() {
		<-ctx.Done()
		_ = c.listener.Close()
	}()

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		c.metrics.ConnectionsTotal.Inc()
		if c.live.Debug().Net && c.log != nil {
			c.log.Infow("accepted connection", "remote", conn.RemoteAddr().String())
		}
		go c.handle(conn)
	}
}

// backgroundLoop reloads config on a fixed interval and purges the cache
// whenever no pairs are active.
func (c *Core) backgroundLoop(ctx context.Context) {
	reload := time.NewTicker(config.ReloadInterval)
	defer reload.Stop()
	idle := time.NewTicker(IdleGCInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reload.C:
			before := c.live.Debug()
			c.live.Reload()
			if after := c.live.Debug(); after != before && c.log != nil {
				c.log.Desugar().Info("debug flags reloaded", logging.DebugFields(after)...)
			}
		case <-idle.C:
			if c.activeCount() == 0 {
				c.cache.Purge()
			}
		}
	}
}

func (c *Core) activeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pairs)
}

func (c *Core) register(p *proxypair.Pair) {
	c.mu.Lock()
	c.pairs[p] = struct{}{}
	c.mu.Unlock()
	c.metrics.ActiveConnections.Inc()
}

func (c *Core) unregister(p *proxypair.Pair) {
	c.mu.Lock()
	delete(c.pairs, p)
	c.mu.Unlock()
	c.metrics.ActiveConnections.Dec()
}

// handle runs the whole lifecycle of one connection pair: build its filter
// runner, read client requests, dial upstream lazily on first forwarded
// request, and pump responses back until either side closes.
func (c *Core) handle(client net.Conn) {
	cfg := c.live.Config()

	runner, err := filter.NewRunner(c.filters.In, c.filters.Out, cfg.FilterValidate, c.log, c.localCache, c.metrics)
	if err != nil {
		if c.log != nil {
			c.log.Errorw("failed to build filter runner, closing connection", "error", err)
		}
		_ = client.Close()
		return
	}

	pair := proxypair.New(client, runner)
	c.register(pair)
	defer c.unregister(pair)
	defer pair.Close()

	for {
		packet, err := codec.ReadFrame(client)
		if err != nil {
			return
		}
		msg, err := codec.Decode(packet)
		if err != nil {
			if c.log != nil {
				c.log.Warnw("malformed client frame, closing pair", "error", err)
			}
			return
		}
		c.logPacket("client->proxy", msg)

		if msg.IsUnbindRequest() {
			return
		}

		if oid := msg.ExtendedOID(); oid == codec.StartTLSOID {
			if c.log != nil {
				c.log.Errorw("rejecting StartTLS extended request, closing pair")
			}
			c.metrics.StartTLSRejectedTotal.Inc()
			return
		}

		if c.live.Debug().Filter && c.log != nil {
			c.log.Infow("running in-filters", "names", c.filters.In, "messageID", msg.MessageID)
		}
		if err := runner.RunIn(client, pair.Server, msg); err != nil {
			if c.log != nil {
				c.log.Errorw("in-filter corrupted encoding, closing pair", "error", err)
			}
			c.metrics.FilterCorruptedTotal.Inc()
			return
		}

		if c.tryServeFromCache(pair, msg, cfg) {
			continue
		}

		if pair.State() == proxypair.AwaitingClient {
			server, dialErr := c.dial()
			if dialErr != nil {
				if c.log != nil {
					c.log.Errorw("upstream dial failed, closing pair", "error", dialErr)
				}
				c.metrics.DialFailuresTotal.Inc()
				return
			}
			if c.live.Debug().Net && c.log != nil {
				c.log.Infow("dialed upstream", "remote", server.RemoteAddr().String())
			}
			pair.MarkConnected(server)
			go c.pumpUpstream(pair, cfg)
		}

		if err := writeFull(pair.Server, codec.Encode(msg, msg.MessageID)); err != nil {
			if c.log != nil {
				c.log.Warnw("failed writing to upstream, closing pair", "error", err)
			}
			return
		}
	}
}

// tryServeFromCache answers a search request from a completed cache entry
// by replaying every stored response with messageID rewritten to the
// caller's own. On a miss it records the pending request so its eventual
// responses get appended once they arrive from upstream. Replayed responses
// go through pair.WriteClient rather than a bare write, since pumpUpstream
// may be forwarding upstream responses to the same socket concurrently once
// the pair has connected.
func (c *Core) tryServeFromCache(pair *proxypair.Pair, msg *codec.Message, cfg config.Config) bool {
	if !cfg.UseCache || !msg.IsSearchRequest() || msg.IsBindRequest() {
		return false
	}

	fp := cache.Fingerprint(msg)
	entry := c.cache.Get(fp)

	if entry == nil {
		c.cache.Set(fp, &cache.Entry{Request: msg.Operation, InsertedAt: time.Now()})
		pair.SetPending(msg.MessageID, fp)
		c.metrics.CacheMissesTotal.Inc()
		if c.live.Debug().Cache && c.log != nil {
			c.log.Infow("cache miss, forwarding upstream", "fingerprint", fp)
		}
		return false
	}

	if !entry.Completed {
		// Request is already in flight from another connection; forward
		// this one too rather than blocking on the first to finish.
		pair.SetPending(msg.MessageID, fp)
		c.metrics.CacheMissesTotal.Inc()
		if c.live.Debug().Cache2 && c.log != nil {
			c.log.Infow("cache entry in flight from another connection, forwarding too", "fingerprint", fp)
		}
		return false
	}

	c.metrics.CacheHitsTotal.Inc()
	if c.live.Debug().Cache && c.log != nil {
		c.log.Infow("cache hit", "fingerprint", fp, "responses", len(entry.Responses))
	}
	for _, resp := range entry.Responses {
		if err := pair.WriteClient(codec.Encode(resp, msg.MessageID)); err != nil {
			return true
		}
	}
	return true
}

// logPacket emits a per-message summary gated by the pkt/pktsecure debug
// flags. bindRequest carries credentials, so it only logs under pktsecure;
// every other operation logs under the coarser pkt flag.
func (c *Core) logPacket(direction string, msg *codec.Message) {
	if c.log == nil {
		return
	}
	debug := c.live.Debug()
	if msg.IsBindRequest() {
		if debug.PktSecure {
			c.log.Infow("packet", "direction", direction, "kind", msg.Kind(), "messageID", msg.MessageID)
		}
		return
	}
	if debug.Pkt {
		c.log.Infow("packet", "direction", direction, "kind", msg.Kind(), "messageID", msg.MessageID)
	}
}

func writeFull(conn net.Conn, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// pumpUpstream reads responses from pair.Server, applies out-filters to
// search result entries and references, appends each response whose
// messageID is pending to its cache entry, and forwards each response to
// pair.Client in the order received.
func (c *Core) pumpUpstream(pair *proxypair.Pair, cfg config.Config) {
	for {
		packet, err := codec.ReadFrame(pair.Server)
		if err != nil {
			pair.Close()
			return
		}
		msg, err := codec.Decode(packet)
		if err != nil {
			if c.log != nil {
				c.log.Warnw("malformed upstream frame, closing pair", "error", err)
			}
			pair.Close()
			return
		}
		c.logPacket("upstream->proxy", msg)

		if msg.IsSearchResultEntry() || msg.IsSearchResultReference() {
			if c.live.Debug().Filter && c.log != nil {
				c.log.Infow("running out-filters", "names", c.filters.Out, "messageID", msg.MessageID)
			}
			if err := pair.Runner.RunOut(pair.Client, pair.Server, msg); err != nil {
				if c.log != nil {
					c.log.Errorw("out-filter corrupted encoding, closing pair", "error", err)
				}
				c.metrics.FilterCorruptedTotal.Inc()
				pair.Close()
				return
			}
		}

		c.recordCacheable(pair, msg, cfg)

		if err := pair.WriteClient(codec.Encode(msg, msg.MessageID)); err != nil {
			pair.Close()
			return
		}

		if msg.IsSearchResultDone() {
			pair.ClearPending(msg.MessageID)
		}
	}
}

// recordCacheable appends msg to its pending cache entry, if the response's
// messageID has one recorded.
func (c *Core) recordCacheable(pair *proxypair.Pair, msg *codec.Message, cfg config.Config) {
	if !cfg.UseCache {
		return
	}
	fp, ok := pair.Fingerprint(msg.MessageID)
	if !ok {
		return
	}
	c.cache.Append(fp, msg)
}
