package cli

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// mustBuildLogger builds the process logger. The server writes JSON to
// stdout for log shippers; the offline commands write console lines to
// stderr so their stdout stays machine-readable. Unknown levels mean info.
func mustBuildLogger(level, output string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	encoding := "json"
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if output == "stderr" {
		encoding = "console"
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	logger, err := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         encoding,
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
