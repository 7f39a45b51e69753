package config

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ReloadInterval is the fixed poll period between re-reads of the
// configuration file on disk.
const ReloadInterval = 15 * time.Second

// Live holds the currently-effective Document. Its debug flags sit behind
// an atomic pointer that Reload updates; callers read a copy through Debug()
// at each call site.
type Live struct {
	mu  sync.Mutex
	doc *Document

	path string
	log  *zap.SugaredLogger

	debug atomic.Pointer[Debug]
}

// NewLive wraps an already-loaded Document for hot-reload from path.
func NewLive(path string, doc *Document, log *zap.SugaredLogger) *Live {
	l := &Live{doc: doc, path: path, log: log}
	l.debug.Store(&doc.Debug)
	return l
}

// Config returns the last-good config section. It never changes after
// startup without a restart (only Debug hot-reloads).
func (l *Live) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.Config
}

// Debug returns the current, possibly hot-reloaded debug flags.
func (l *Live) Debug() Debug {
	return *l.debug.Load()
}

// Reload re-reads the config file. Only the debug subset is applied; a
// change to listen/ssl/upstream_ldap/upstream_ssl is logged as a warning
// and ignored, since those require a process restart to take effect. A
// read/parse failure keeps the last-good config and logs a warning.
func (l *Live) Reload() {
	next, err := Load(l.path)
	if err != nil {
		if l.log != nil {
			l.log.Warnw("config reload failed, keeping last-good config", "error", err)
		}
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if restartRequiredFieldsChanged(l.doc.Config, next.Config) {
		if l.log != nil {
			l.log.Warnw("listen/ssl/upstream config changed on disk; restart required to apply it")
		}
	}

	l.doc.Debug = next.Debug
	l.debug.Store(&l.doc.Debug)
}

func restartRequiredFieldsChanged(old, next Config) bool {
	return old.Listen != next.Listen ||
		old.SSL != next.SSL ||
		old.UpstreamLDAP != next.UpstreamLDAP ||
		old.UpstreamSSL != next.UpstreamSSL
}
