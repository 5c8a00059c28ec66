package job

import (
	"context"
	"net/http"
	"time"

	nr "github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/log"
	"inviqa/mqtt-outbox-relay/newrelic"
)

type Task string

const (
	Republish Task = "republish"
	Cancel    Task = "cancel"
	Clean     Task = "clean"
	DeepClean Task = "deep-clean"
)

// Maintainer is the part of a delivery engine the ledger jobs drive.
type Maintainer interface {
	Connect(ctx context.Context) error
	RepublishUnconfirmed(ctx context.Context) (int, error)
	CancelStale(maxAge time.Duration) (int64, error)
	Cleanup() (int64, error)
	DeepClean() (int64, error)
	Shutdown(ctx context.Context) error
}

type maintenance struct {
	engine     Maintainer
	tasks      []Task
	staleAfter time.Duration
	nrApp      *nr.Application
	logger     logrus.FieldLogger
	SidecarQuitter
}

// RunMaintenance runs the ledger jobs requested on the command line against
// one publisher and returns the process exit code.
func RunMaintenance(ctx context.Context, nrApp *nr.Application, engine Maintainer, cfg *config.Config, pc *config.PublisherConfig) int {
	j := newMaintenance(engine, TasksFor(cfg), pc.StaleAfterDuration(), http.DefaultClient)
	j.nrApp = nrApp
	j.logger = log.ForPublisher(pc.Name)
	if cfg.SidecarProxyUrl != "" {
		j.EnableSideCarProxyQuit(cfg.SidecarProxyUrl)
	}

	if err := j.Execute(ctx); err != nil {
		return 1
	}

	return 0
}

// TasksFor lists the requested ledger jobs in the order they run.
func TasksFor(cfg *config.Config) []Task {
	var tasks []Task
	if cfg.RunRepublish {
		tasks = append(tasks, Republish)
	}
	if cfg.RunCancel {
		tasks = append(tasks, Cancel)
	}
	if cfg.RunClean {
		tasks = append(tasks, Clean)
	}
	if cfg.RunDeepClean {
		tasks = append(tasks, DeepClean)
	}

	return tasks
}

func newMaintenance(engine Maintainer, tasks []Task, staleAfter time.Duration, cl httpPoster) *maintenance {
	return &maintenance{
		engine:         engine,
		tasks:          tasks,
		staleAfter:     staleAfter,
		logger:         log.Logger,
		SidecarQuitter: SidecarQuitter{Client: cl},
	}
}

func (m *maintenance) Execute(parent context.Context) error {
	ctx, txn := newrelic.ContextWithTxn(parent, "job: maintenance.Execute()", m.nrApp)
	defer txn.End()

	err := m.run(ctx)
	if err != nil {
		txn.NoticeError(err)
	}

	return m.QuitIfEnabled(err)
}

func (m *maintenance) run(ctx context.Context) error {
	for _, task := range m.tasks {
		logger := m.logger.WithField("task", task)

		var (
			n   int64
			err error
		)
		switch task {
		case Republish:
			n, err = m.republish(ctx)
		case Cancel:
			n, err = m.engine.CancelStale(m.staleAfter)
		case Clean:
			n, err = m.engine.Cleanup()
		case DeepClean:
			n, err = m.engine.DeepClean()
		}

		if err != nil {
			logger.WithError(err).Error("an error occurred whilst maintaining the outbox")
			return err
		}
		logger.Infof("%s affected %d outbox records", task, n)
	}

	return nil
}

func (m *maintenance) republish(ctx context.Context) (int64, error) {
	if err := m.engine.Connect(ctx); err != nil {
		return 0, err
	}

	n, err := m.engine.RepublishUnconfirmed(ctx)
	if shutdownErr := m.engine.Shutdown(ctx); err == nil {
		err = shutdownErr
	}

	return int64(n), err
}
