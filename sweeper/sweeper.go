// Package sweeper periodically retries auto-approval for entitlements still
// waiting on activation. A purchase can arrive before the buyer's internal
// account exists; the sweep picks those up once the account activates.
package sweeper

import (
	"context"
	"path"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/procurekit/procurement"
)

type Sweeper struct {
	engine   *procurement.Engine
	projects []string
	spec     string
	cron     *cron.Cron
	log      *logrus.Logger
}

// New builds a sweeper over the given projects. spec is a cron schedule
// expression; empty defaults to "@every 10m".
func New(engine *procurement.Engine, projects []string, spec string, log *logrus.Logger) *Sweeper {
	if spec == "" {
		spec = "@every 10m"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{engine: engine, projects: projects, spec: spec, log: log}
}

// Start schedules the sweep. Returns an error only for an invalid schedule
// expression.
func (s *Sweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the schedule. In-flight sweeps finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// RunOnce sweeps every configured project: list entitlements pending
// activation and attempt auto-approval for each. Per-entitlement failures
// are logged and the sweep continues.
func (s *Sweeper) RunOnce(ctx context.Context) {
	for _, projectID := range s.projects {
		ents, err := s.engine.ListProcurements(ctx, projectID, nil)
		if err != nil {
			s.log.WithError(err).WithField("project", projectID).Error("sweep: list entitlements")
			continue
		}
		for _, ent := range ents {
			id := path.Base(ent.Name)
			if err := s.engine.AutoApproveEntitlement(ctx, projectID, id); err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{
					"project":     projectID,
					"entitlement": id,
				}).Error("sweep: auto-approve")
			}
		}
	}
}
