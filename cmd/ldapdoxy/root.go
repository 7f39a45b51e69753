// Command ldapdoxy runs the LDAP proxy daemon. The command layer is built
// on cobra, the CLI library the rest of the retrieved corpus's daemons use
// for their entrypoints, in place of predoxy's own flat flag-free main.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/achetronic/ldapdoxy/cache"
	"github.com/achetronic/ldapdoxy/config"
	"github.com/achetronic/ldapdoxy/filter"
	"github.com/achetronic/ldapdoxy/logging"
	"github.com/achetronic/ldapdoxy/metrics"
	"github.com/achetronic/ldapdoxy/proxy"
	"github.com/achetronic/ldapdoxy/transport"

	_ "github.com/achetronic/ldapdoxy/filter/rewritebinddn"
	"github.com/achetronic/ldapdoxy/filter/yamloverlay"
)

var configFile string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ldapdoxy",
		Short:        "Transparent LDAP proxy with caching and pluggable filters",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile)
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "ldapdoxy.yaml", "path to the YAML configuration file")

	return cmd
}

func run(ctx context.Context, path string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	doc, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg := doc.Config

	log, err := logging.Build(logging.SinksFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	live := config.NewLive(path, doc, log)
	log.Desugar().Info("debug flags loaded", logging.DebugFields(live.Debug())...)

	localCachePool, err := buildLocalCachePool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building filter local caches: %w", err)
	}

	if cfg.YAMLAttributes {
		filter.RegisterOut("yamloverlay", func() interface{} {
			return yamloverlay.New(cfg.YAMLDir, cfg.OverlayPrefix)
		})
	}

	m := metrics.New()
	go serveMetrics(m, log)

	respCache := cache.New(time.Duration(cfg.CacheExpire) * time.Second)

	listenHost, listenPort, err := splitHostPort(cfg.Listen)
	if err != nil {
		return fmt.Errorf("parsing listen address %q: %w", cfg.Listen, err)
	}
	listenTLS, err := listenerTLSConfig(cfg)
	if err != nil {
		return err
	}
	listener, err := transport.Listen(transport.ListenerConfig{Host: listenHost, Port: listenPort, TLS: listenTLS})
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}
	log.Infow("listening", "addr", listener.Addr().String())

	upstreamHost, upstreamPort, err := splitHostPort(cfg.UpstreamLDAP)
	if err != nil {
		return fmt.Errorf("parsing upstream address %q: %w", cfg.UpstreamLDAP, err)
	}
	upstreamTLS, err := upstreamTLSConfig(cfg)
	if err != nil {
		return err
	}

	dial := func() (net.Conn, error) {
		return transport.Dial(transport.DialerConfig{Host: upstreamHost, Port: upstreamPort, TLS: upstreamTLS})
	}

	core := proxy.New(listener, dial, respCache, proxy.FilterNames{In: cfg.InFilters, Out: cfg.OutFilters}, localCachePool, live, m, log)

	return core.Run(ctx)
}

// localCacheTTL bounds how long a filter's own scratch cache entry survives
// before bigcache evicts it, independent of the response cache's own
// usecache/cacheexpire setting.
const localCacheTTL = 10 * time.Minute

// buildLocalCachePool constructs one bigcache instance per distinct filter
// name across both pipelines, mirroring predoxy's
// api.PluginCache.LocalCachePool[pluginName]: every named filter gets its
// own scratch cache rather than sharing one across the whole pipeline.
func buildLocalCachePool(ctx context.Context, cfg config.Config) (filter.LocalCachePool, error) {
	pool := filter.LocalCachePool{}
	for _, name := range append(append([]string{}, cfg.InFilters...), cfg.OutFilters...) {
		if _, exists := pool[name]; exists {
			continue
		}
		c, err := bigcache.New(ctx, bigcache.DefaultConfig(localCacheTTL))
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
		pool[name] = c
	}
	return pool, nil
}

// serveMetrics exposes the proxy's own Prometheus registry on a fixed local
// port, separate from the LDAP listener.
func serveMetrics(m *metrics.Metrics, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe("127.0.0.1:9114", mux); err != nil {
		log.Warnw("metrics server stopped", "error", err)
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}

func listenerTLSConfig(cfg config.Config) (*tls.Config, error) {
	if !cfg.SSL {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading listener certificate: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func upstreamTLSConfig(cfg config.Config) (*tls.Config, error) {
	if !cfg.UpstreamSSL {
		return nil, nil
	}
	tlsConf := &tls.Config{}
	if cfg.UpstreamTLSCAFile != "" {
		pem, err := os.ReadFile(cfg.UpstreamTLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("reading upstream CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.UpstreamTLSCAFile)
		}
		tlsConf.RootCAs = pool
	}
	return tlsConf, nil
}
