package logging

import (
	"github.com/rollbar/rollbar-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ariefcatur/go-lms-enrollment/internal/config"
)

// New builds the process logger. Production envs log JSON at info level, everything
// else logs human readable output at debug level. When a Rollbar token is configured,
// error entries are forwarded to Rollbar as well.
func New(cfg config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.IsProd() {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.InitialFields = map[string]interface{}{"service": cfg.ServiceName}

	var opts []zap.Option
	if cfg.RollbarToken != "" {
		rollbar.SetToken(cfg.RollbarToken)
		rollbar.SetEnvironment(cfg.Env)
		rollbar.SetServerRoot("github.com/ariefcatur/go-lms-enrollment")
		opts = append(opts, zap.Hooks(rollbarHook))
	}
	return zc.Build(opts...)
}

func rollbarHook(e zapcore.Entry) error {
	switch e.Level {
	case zapcore.ErrorLevel:
		rollbar.Error(e.Message, map[string]interface{}{"logger": e.LoggerName, "caller": e.Caller.String()})
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		rollbar.Critical(e.Message, map[string]interface{}{"logger": e.LoggerName, "caller": e.Caller.String()})
	}
	return nil
}

// Close flushes buffered entries. Errors from syncing stderr are expected on some
// platforms and ignored.
func Close(l *zap.Logger) {
	_ = l.Sync()
	rollbar.Wait()
}
