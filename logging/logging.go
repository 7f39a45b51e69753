// Package logging builds the proxy's structured logger. It is zap
// throughout — the exact library predoxy's TCPProxy carries as a
// *zap.SugaredLogger field — composed over up to three sinks
// (stderr / file / syslog) selected by config.
package logging

import (
	"log/syslog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/achetronic/ldapdoxy/config"
)

// Sinks describes which config-selected outputs to tee log entries to.
type Sinks struct {
	Stderr    bool
	FilePath  string // "" disables the file sink
	Syslog    bool
	SyslogTag string
}

// Build constructs a *zap.SugaredLogger writing to every sink enabled in s.
// If no sink is enabled, logs go nowhere but the logger remains safe to
// call (zap.NewNop's core, teed with nothing, behaves the same).
func Build(s Sinks) (*zap.SugaredLogger, error) {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	var cores []zapcore.Core

	if s.Stderr {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.InfoLevel))
	}

	if s.FilePath != "" {
		f, err := os.OpenFile(s.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(f), zap.InfoLevel))
	}

	if s.Syslog {
		tag := s.SyslogTag
		if tag == "" {
			tag = "ldapdoxy"
		}
		writer, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
		if err != nil {
			return nil, err
		}
		// syslog.Writer implements io.Writer directly, so it needs no
		// adapter beyond zapcore.AddSync's WriteSyncer wrapper.
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(writer), zap.InfoLevel))
	}

	if len(cores) == 0 {
		return zap.NewNop().Sugar(), nil
	}

	logger := zap.New(zapcore.NewTee(cores...))
	return logger.Sugar(), nil
}

// SinksFromConfig maps the proxy's config fields onto Sinks.
func SinksFromConfig(cfg config.Config) Sinks {
	return Sinks{
		Stderr:   cfg.LogStderr,
		FilePath: cfg.LogFile,
		Syslog:   cfg.LogSyslog,
	}
}

// DebugFields turns the hot-reloadable debug map into zap fields, one bool
// field per flag, for logging the current snapshot. It gates nothing
// itself: call sites check the flags before logging.
func DebugFields(d config.Debug) []zap.Field {
	return []zap.Field{
		zap.Bool("debug.info", d.Info),
		zap.Bool("debug.warn", d.Warn),
		zap.Bool("debug.err", d.Err),
		zap.Bool("debug.pkt", d.Pkt),
		zap.Bool("debug.pktsecure", d.PktSecure),
		zap.Bool("debug.net", d.Net),
		zap.Bool("debug.cache", d.Cache),
		zap.Bool("debug.cache2", d.Cache2),
		zap.Bool("debug.filter", d.Filter),
	}
}
