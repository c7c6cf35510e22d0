// Package logger предоставляет логирование с префиксом сервиса поверх zap.
// Поддерживается логирование времени выполнения функций.
package logger

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// slowThreshold: при LOG_LEVEL=info длительности короче порога не пишутся.
const slowThreshold = 100 * time.Millisecond

var (
	mu    sync.RWMutex
	base  *zap.SugaredLogger
	debug bool
	once  sync.Once
	// level общий для ядра zap: SetLevel меняет его без пересборки логгера.
	level = zap.NewAtomicLevel()
)

func build() {
	debug = isDebug(os.Getenv("LOG_LEVEL"))

	var cfg zap.Config
	if os.Getenv("APP_ENV") == "development" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if debug {
		level.SetLevel(zap.DebugLevel)
	} else {
		level.SetLevel(cfg.Level.Level())
	}
	cfg.Level = level
	cfg.DisableStacktrace = true

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewNop()
	}
	base = l.Sugar()
}

func isDebug(level string) bool {
	return level == "debug" || level == "trace"
}

func get() *zap.SugaredLogger {
	once.Do(build)
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// SetPrefix задаёт имя сервиса для всех последующих логов (например "chat").
func SetPrefix(p string) {
	l := get()
	mu.Lock()
	base = l.Named(p)
	mu.Unlock()
}

// SetLevel переопределяет LOG_LEVEL после загрузки конфигурации.
func SetLevel(lvl string) {
	get()
	mu.Lock()
	debug = isDebug(lvl)
	mu.Unlock()
	if debug {
		level.SetLevel(zap.DebugLevel)
	} else {
		level.SetLevel(zap.InfoLevel)
	}
}

func Info(v ...any) { get().Info(v...) }

func Infof(format string, v ...any) { get().Infof(format, v...) }

func Debugf(format string, v ...any) { get().Debugf(format, v...) }

func Error(v ...any) { get().Error(v...) }

func Errorf(format string, v ...any) { get().Errorf(format, v...) }

// Sync сбрасывает буферы zap; вызывать перед выходом из процесса.
func Sync() {
	_ = get().Sync()
}

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// При LOG_LEVEL=info логирует только вызовы дольше 100ms; при LOG_LEVEL=debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	mu.RLock()
	verbose := debug
	mu.RUnlock()
	if verbose || elapsed >= slowThreshold {
		get().Infow("duration", "fn", fn, "duration_ms", elapsed.Milliseconds())
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
