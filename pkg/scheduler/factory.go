package scheduler

import (
	"github.com/iotech/iotcore/pkg/affinity"
	"github.com/iotech/iotcore/pkg/config"
	"github.com/iotech/iotcore/pkg/container"
	"github.com/rs/zerolog"
)

// Register installs the scheduler's container factory under FactoryType
// ("IOT::Scheduler"), so a declaration line like "sched: IOT::Scheduler"
// resolves to a *Scheduler built from that component's own configuration
// (Logger, Priority, Affinity keys).
func Register() {
	container.RegisterFactory(&container.Factory{
		Type: FactoryType,
		Configure: func(cont *container.Container, cfg map[string]any) (container.Component, error) {
			var logger zerolog.Logger
			if loggerName := config.GetString(cfg, "Logger", ""); loggerName != "" {
				if comp, ok := cont.FindComponent(loggerName); ok {
					if l, ok := comp.(*container.Logger); ok {
						logger = l.Logger
					}
				}
			}
			priority := config.GetInt(cfg, "Priority", affinity.NoPriority)
			cpu := config.GetInt(cfg, "Affinity", affinity.NoAffinity)
			return New(priority, cpu, logger, nil), nil
		},
		Free: func(c container.Component) {
			if s, ok := c.(*Scheduler); ok {
				s.Free()
			}
		},
	})
}
