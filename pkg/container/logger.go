package container

import (
	"github.com/iotech/iotcore/pkg/component"
	"github.com/iotech/iotcore/pkg/config"
	"github.com/iotech/iotcore/pkg/log"
	"github.com/rs/zerolog"
)

// LoggerFactoryType is the factory Type name built-in Logger components
// are declared under.
const LoggerFactoryType = "Logger"

// Logger is a container component wrapping a zerolog.Logger, resolvable
// by other components via FindComponent and the "Logger" config key.
type Logger struct {
	*component.Base
	zerolog.Logger
}

// Start transitions the logger to running; it has no background work.
func (l *Logger) Start() { l.SetRunning() }

// Stop transitions the logger to stopped.
func (l *Logger) Stop() { l.SetStopped() }

func init() {
	RegisterFactory(&Factory{
		Type: LoggerFactoryType,
		Configure: func(cont *Container, cfg map[string]any) (Component, error) {
			lvl := config.GetString(cfg, "Level", "info")
			sub := log.WithComponent(cont.Name())
			parsed, err := zerolog.ParseLevel(lvl)
			if err == nil {
				sub = sub.Level(parsed)
			}
			return &Logger{Base: component.NewBase(), Logger: sub}, nil
		},
		Free: func(c Component) {
			if l, ok := c.(*Logger); ok {
				l.SetDeleted()
			}
		},
	})
}
