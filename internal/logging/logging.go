package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"guest-gc/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mu     sync.RWMutex
	writer io.Writer = os.Stdout
)

// Init configures the global zerolog logger. When cfg.File is set, lines go
// to stdout and to a size-capped file; the returned closer releases the file.
func Init(cfg config.LogConfig) (io.Closer, error) {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(cfg.Level); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	var closer io.Closer = nopCloser{}
	if path := strings.TrimSpace(cfg.File); path != "" {
		f, err := newRollingFile(path, cfg.MaxMB)
		if err != nil {
			return nil, err
		}
		out = zerolog.MultiLevelWriter(out, f)
		closer = f
	}

	zerolog.SetGlobalLevel(level)
	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()
	if cfg.SampleEvery > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(cfg.SampleEvery)})
	}
	log.Logger = logger

	mu.Lock()
	writer = out
	mu.Unlock()
	return closer, nil
}

// Writer returns the sink of the global logger, for libraries that log
// through their own handler.
func Writer() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return writer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
