package logging

import (
	"github.com/rs/zerolog"
	"go.mau.fi/zerozap"
	"go.uber.org/zap"
)

// Zap adapts a zerolog.Logger for libraries that insist on zap, such as the
// etcd client.
func Zap(base zerolog.Logger, level zerolog.Level) *zap.Logger {
	core := zerozap.New(base.
		Level(level).
		With().
		Logger())
	return zap.New(core)
}
