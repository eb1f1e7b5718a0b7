package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/good-food-maalsi/franchise-service/internal/config"
)

// New builds the process logger: JSON to stdout with ISO8601 timestamps,
// caller info, stack traces on errors and the service name on every entry.
func New(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		level,
	)

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(
			zap.String("service.name", config.ServiceName),
			zap.String("environment", cfg.Environment),
		),
	), nil
}

// GooseAdapter routes goose migration output through zap
type GooseAdapter struct {
	Logger *zap.Logger
}

func (a GooseAdapter) Printf(format string, v ...interface{}) {
	a.Logger.Sugar().Infof(format, v...)
}

func (a GooseAdapter) Fatalf(format string, v ...interface{}) {
	a.Logger.Sugar().Fatalf(format, v...)
}
