package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	nr "github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"inviqa/mqtt-outbox-relay/broker"
	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/delivery"
	h "inviqa/mqtt-outbox-relay/http"
	"inviqa/mqtt-outbox-relay/intake"
	"inviqa/mqtt-outbox-relay/job"
	"inviqa/mqtt-outbox-relay/kafka"
	"inviqa/mqtt-outbox-relay/log"
	"inviqa/mqtt-outbox-relay/mqtt"
	"inviqa/mqtt-outbox-relay/newrelic"
	"inviqa/mqtt-outbox-relay/outbox"
	"inviqa/mqtt-outbox-relay/outbox/data"
	"inviqa/mqtt-outbox-relay/prometheus"
	"inviqa/mqtt-outbox-relay/source"
	"inviqa/mqtt-outbox-relay/supervisor"
	"inviqa/mqtt-outbox-relay/transform"
)

const (
	sizeSampleInterval = time.Second * 15
	stopTimeout        = time.Second * 30
)

func main() {
	nrApp, stopAgent := newrelic.StartAgent()

	ctx, cancel := context.WithCancel(context.Background())
	cfg, err := config.NewConfig()
	if err != nil {
		log.Logger.Fatalf("unable to create configuration: %s", err)
	}

	if b, err := json.Marshal(cfg); err == nil {
		log.Logger.WithField("config", string(b)).Info("configuration loaded")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	var exitCode int
	if cfg.RunJob() {
		exitCode = runJobs(ctx, nrApp, cfg)
	} else {
		exitCode = runMainApp(ctx, cancel, nrApp, cfg)
	}

	// os.Exit() does not respect defer
	stopAgent()
	if exitCode > 0 {
		os.Exit(exitCode)
	}
}

func runJobs(ctx context.Context, nrApp *nr.Application, cfg *config.Config) int {
	pc, err := cfg.PublisherByName(cfg.Publisher)
	if err != nil {
		log.Logger.WithError(err).Error("unknown publisher")
		return 1
	}
	logger := log.ForPublisher(pc.Name)

	db, err := data.OpenLedger(ctx, pc.Ledger, cfg.SkipMigrations)
	if err != nil {
		logger.WithError(err).Error("unable to open the outbox ledger")
		return 1
	}
	defer db.Close()

	if len(job.TasksFor(cfg)) > 0 {
		engine, err := newEngine(pc, db, logger, delivery.NopObserver{})
		if err != nil {
			logger.WithError(err).Error("unable to create the broker client")
			return 1
		}

		// the sidecar is quit once, by the last job to run
		mcfg := *cfg
		if cfg.RunOptimize {
			mcfg.SidecarProxyUrl = ""
		}
		if code := job.RunMaintenance(ctx, nrApp, engine, &mcfg, pc); code > 0 {
			return code
		}
	}

	if cfg.RunOptimize {
		return job.RunOptimize(ctx, nrApp, db, cfg.SidecarProxyUrl)
	}

	return 0
}

type runner interface {
	Run(ctx context.Context) error
}

func runMainApp(ctx context.Context, cancel context.CancelFunc, nrApp *nr.Application, cfg *config.Config) int {
	pubs := cfg.Publishers()
	if len(pubs) == 0 {
		log.Logger.Error("no publisher is enabled, nothing to do")
		return 1
	}

	// topics are validated for every publisher before anything connects
	routers := map[string]*transform.Router{}
	for _, pc := range pubs {
		topics, err := transform.Load(pc.Defaults, pc.Topics)
		if err != nil {
			log.ForPublisher(pc.Name).WithError(err).Error("invalid topic configuration")
			return 1
		}
		routers[pc.Name] = transform.NewRouter(topics)
	}

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	dbs := map[string]h.Pinger{}
	var runners []runner
	for _, pc := range pubs {
		r, cleanup, repo, err := newPublisher(ctx, nrApp, cfg, pc, routers[pc.Name])
		if cleanup != nil {
			cleanups = append(cleanups, cleanup)
		}
		if err != nil {
			log.ForPublisher(pc.Name).WithError(err).Error("unable to start the publisher")
			return 1
		}

		dbs[pc.Name] = repo
		runners = append(runners, r)
		go prometheus.ObserveSizes(ctx, pc.Name, repo, sizeSampleInterval)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		exitCode int
	)
	for i, r := range runners {
		wg.Add(1)
		go func(name string, r runner) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.ForPublisher(name).WithError(err).Error("publisher stopped with an error")
				mu.Lock()
				exitCode = 1
				mu.Unlock()
				cancel()
			}
		}(pubs[i].Name, r)
	}

	prometheus.StartHttpServer(ctx, cfg.MetricsAddr, cfg.GetDependencySystemAddresses(), dbs)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Logger.Error("publishers did not stop in time")
		return 1
	}

	mu.Lock()
	defer mu.Unlock()

	return exitCode
}

// newPublisher wires one publisher section: ledger, broker session, delivery
// engine and the supervisor that drives them.
func newPublisher(ctx context.Context, nrApp *nr.Application, cfg *config.Config, pc *config.PublisherConfig, router *transform.Router) (runner, func(), outbox.Repository, error) {
	logger := log.ForPublisher(pc.Name)
	obs := prometheus.NewObserver(pc.Name)

	ledger, err := data.OpenLedger(ctx, pc.Ledger, cfg.SkipMigrations)
	if err != nil {
		return nil, nil, outbox.Repository{}, err
	}
	repo := outbox.NewRepository(ledger.Connection(), pc.Ledger)

	engine, err := newEngine(pc, ledger, logger, obs)
	if err != nil {
		ledger.Close()
		return nil, nil, repo, err
	}

	opts := supervisor.Options{
		Keepalive:       pc.Broker.KeepaliveDuration(),
		CleanupInterval: pc.CleanupIntervalDuration(),
		StaleAfter:      pc.StaleAfterDuration(),
	}

	switch pc.Name {
	case config.QueuePublisher:
		backlogDB, err := data.OpenBacklog(ctx, pc.Backlog)
		if err != nil {
			ledger.Close()
			return nil, nil, repo, err
		}

		d := intake.NewDrainer(intake.NewBacklog(backlogDB.Connection(), pc.Backlog), router, engine, logger, nrApp, intake.Options{
			InflightAttempts: pc.InflightAttempts,
			InflightWait:     pc.InflightWaitDuration(),
		})
		d.OnDrained(obs.Drained)

		q := supervisor.NewQueue(engine, d, ledger.Connection(), logger, nrApp, supervisor.QueueOptions{
			Options:         opts,
			CatchupCount:    pc.CatchupCount,
			WaitBeforeRetry: pc.WaitBeforeRetryDuration(),
			PublishInterval: time.Duration(pc.PublishInterval) * time.Second,
			PublishDelay:    time.Duration(pc.PublishDelay) * time.Second,
		})

		return q, backlogDB.Close, repo, nil
	default:
		l := supervisor.NewLive(engine, router, ledger.Connection(), logger, nrApp, supervisor.LiveOptions{
			Options:  opts,
			IdleWait: pc.LiveQueueTimeoutDuration(),
		})

		if pc.NatsURL == "" {
			logger.Warn("no nats_url configured, the live publisher has no record source")
			return l, nil, repo, nil
		}

		src, err := source.NewNATS(pc.NatsURL, pc.NatsSubject, l, logger)
		if err != nil {
			ledger.Close()
			return nil, nil, repo, err
		}

		return l, func() { _ = src.Close() }, repo, nil
	}
}

func newEngine(pc *config.PublisherConfig, ledger data.DB, logger logrus.FieldLogger, obs delivery.Observer) (*delivery.Engine, error) {
	c, err := newBrokerClient(pc.Broker, logger)
	if err != nil {
		return nil, err
	}

	return delivery.New(c, outbox.NewRepository(ledger.Connection(), pc.Ledger), logger, obs, delivery.Options{
		ConnectAttempts:  pc.ConnectAttempts,
		ConnectWait:      pc.ConnectWaitDuration(),
		InflightAttempts: pc.InflightAttempts,
		InflightWait:     pc.InflightWaitDuration(),
		RepublishPasses:  pc.RepublishPasses,
	}), nil
}

func newBrokerClient(b config.Broker, logger logrus.FieldLogger) (broker.Client, error) {
	switch b.Driver {
	case config.Kafka:
		return kafka.NewClient(b, logger)
	default:
		return mqtt.NewClient(b, logger)
	}
}
