// Package sweep runs periodic, out-of-band housekeeping over the
// supervisor's instance table and the request correlator: neither is on
// any request path (§5 rules out CPU-bound work there), so this is driven
// by a cron schedule instead, following the teacher's modules/scheduler
// use of robfig/cron for background job execution.
package sweep

import (
	"github.com/robfig/cron/v3"

	"github.com/statehub-server/core/internal/correlator"
	"github.com/statehub-server/core/internal/logging"
	"github.com/statehub-server/core/internal/supervisor"
)

// Sweeper periodically logs instance and pending-request health and gives
// a single place to add future reaping behavior (e.g. force-killing an
// instance stuck in StateDying) without touching the request path.
type Sweeper struct {
	log  logging.Logger
	sup  *supervisor.Supervisor
	corr *correlator.Correlator
	cron *cron.Cron
}

// New creates a Sweeper. The schedule is given later to Start.
func New(log logging.Logger, sup *supervisor.Supervisor, corr *correlator.Correlator) *Sweeper {
	return &Sweeper{log: log, sup: sup, corr: corr, cron: cron.New()}
}

// Start schedules the sweep and returns once the cron scheduler is
// running in the background. Stop undoes it. schedule is a standard
// five-field cron expression or a descriptor such as "@every 1m".
func (s *Sweeper) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, blocking until the in-flight run (if any) completes.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	s.log.Debug("sweep: correlator pending requests", "count", s.corr.Pending())
	for _, inst := range s.sup.AllInstances() {
		if inst.State() == supervisor.StateDying {
			s.log.Warn("sweep: instance stuck in dying state", "instance", inst.InstanceID, "module", inst.ModuleName)
		}
	}
}
