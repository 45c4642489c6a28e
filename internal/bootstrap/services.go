package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orderguard/orderguard/config"
	"github.com/orderguard/orderguard/internal/adapters/jobrunner"
	"github.com/orderguard/orderguard/internal/data"
	"github.com/orderguard/orderguard/internal/domain/batch"
	"github.com/orderguard/orderguard/internal/domain/decision"
	domainjob "github.com/orderguard/orderguard/internal/domain/job"
	"github.com/orderguard/orderguard/internal/domain/model"
	"github.com/orderguard/orderguard/internal/observability/metrics"
	"github.com/orderguard/orderguard/internal/observability/notify"
	"github.com/orderguard/orderguard/internal/observability/notify/pagerduty"
	"github.com/orderguard/orderguard/internal/observability/notify/slack"
	"github.com/orderguard/orderguard/internal/observability/statsd"
	"github.com/orderguard/orderguard/internal/service"
	"github.com/orderguard/orderguard/internal/service/cache"
	"github.com/orderguard/orderguard/internal/validators"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	Decisions     *service.DecisionService
	Dedupe        *service.DedupeService
	Pipeline      *batch.Pipeline
	Runner        *jobrunner.Runner
	Sweeper       *service.SweeperService
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   statsd.Sink
	Pipeline      *metrics.Pipeline
	Notifier      *notify.Dispatcher
	MetricsConfig config.ObservabilityMetricsConfig
	closer        func() error
}

// Close releases the metrics transport.
func (o ObservabilityContainer) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer()
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	JobRepo      *data.JobRepo
	RuleRepo     *data.RuleRepo
	CustomerRepo *data.CustomerRepo
	CacheRepo    *data.RedisCacheRepo
	Progress     *data.RedisProgressPublisher
}

// buildObservability configures the metrics sink and failure notifier.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	out := ObservabilityContainer{
		MetricsSink:   statsd.Discard{},
		MetricsConfig: cfg.Metrics,
	}
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "orderguard",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			out.MetricsSink = client
			out.closer = client.Close
		}
	}
	out.Pipeline = metrics.NewPipeline(out.MetricsSink)
	out.Notifier = buildFailureNotifier(obsLogger, cfg.Notifications)
	return out
}

// buildFailureNotifier registers the configured alert sinks. A sink that fails to build is logged and skipped.
func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *notify.Dispatcher {
	if !cfg.Enabled {
		return notify.NewDispatcher(notify.DispatcherOptions{Logger: logger})
	}

	sinks := make([]notify.SinkRegistration, 0, 2)
	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
		})
		if err != nil {
			logger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, notify.SinkRegistration{Name: "slack", Sink: client})
		}
	}
	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, notify.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	// Each sink retries with linear backoff inside its own HTTP timeout; leave room for all attempts.
	budget := time.Duration(cfg.RetryLimit+1)*cfg.Timeout + time.Duration(cfg.RetryLimit*(cfg.RetryLimit+1)/2)*notify.RetryStep
	return notify.NewDispatcher(notify.DispatcherOptions{
		Logger:  logger,
		Sinks:   sinks,
		Timeout: budget,
	})
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, rdb redis.UniversalClient, logger *slog.Logger) *serviceRepositories {
	tp := &data.RealTimeProvider{}
	repos := &serviceRepositories{
		JobRepo:      data.NewJobRepo(db, data.RepoConfig{Logger: logger, TimeProvider: tp}),
		RuleRepo:     data.NewRuleRepo(db, tp),
		CustomerRepo: data.NewCustomerRepo(db, tp),
	}
	if rdb != nil {
		repos.CacheRepo = data.NewRedisCacheRepo(rdb, data.DefaultKeyPrefix)
		repos.Progress = data.NewRedisProgressPublisher(rdb)
	}
	return repos
}

// engineSettings converts configuration strings into engine types.
func engineSettings(cfg config.DecisionConfig) ([]model.FieldName, decision.Weights, decision.Thresholds) {
	fields := make([]model.FieldName, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		fields = append(fields, model.FieldName(f))
	}
	weights := make(decision.Weights, len(cfg.FieldWeights))
	for f, w := range cfg.FieldWeights {
		weights[model.FieldName(f)] = w
	}
	thresholds := decision.Thresholds{
		Low:    cfg.LowThreshold,
		Medium: cfg.MediumThreshold,
		High:   cfg.HighThreshold,
	}
	return fields, weights, thresholds
}

func newValidatorSet(cfg config.DecisionConfig) []decision.FieldValidator {
	emailOpts := validators.EmailOptions{}
	if cfg.MXLookupEnabled {
		emailOpts.Resolver = net.DefaultResolver
		emailOpts.LookupRate = cfg.MXLookupRate
	}
	return validators.NewSet(validators.SetOptions{
		Email: emailOpts,
		Phone: validators.PhoneOptions{DefaultCallingCode: cfg.DefaultCallingCode},
	})
}

func newDecisionCache(repos *serviceRepositories, cfg config.CacheConfig, logger *slog.Logger) *cache.DecisionCache {
	opts := cache.DecisionCacheOptions{
		LocalTTL:  cfg.LocalTTL,
		RemoteTTL: cfg.DecisionTTL,
		Logger:    logger,
	}
	if cfg.LocalCapacity > 0 {
		opts.Local = cache.NewLRU[*model.Decision](cache.LRUConfig{Capacity: cfg.LocalCapacity})
	}
	if repos.CacheRepo != nil {
		opts.Remote = repos.CacheRepo
	}
	return cache.NewDecisionCache(opts)
}

func loadFallbackRules(cfg config.DecisionConfig) ([]model.RuleDefinition, error) {
	if cfg.RulesFile != "" {
		return data.LoadRuleFile(cfg.RulesFile)
	}
	return data.DefaultRules()
}

type decisionStack struct {
	engine    *decision.Engine
	decisions *service.DecisionService
}

func buildDecisionStack(
	cfg *config.AppConfig,
	repos *serviceRepositories,
	obs ObservabilityContainer,
	logger *slog.Logger,
) (decisionStack, error) {
	set := newValidatorSet(cfg.Decision)
	fields, weights, thresholds := engineSettings(cfg.Decision)

	engineOpts := decision.EngineOptions{
		Validators:     set,
		RequiredFields: fields,
		Weights:        weights,
		Thresholds:     thresholds,
		DefaultTimeout: cfg.Decision.ValidatorTimeout,
		Logger:         logger,
	}
	if cfg.Decision.CacheEnabled {
		engineOpts.Cache = newDecisionCache(repos, cfg.Cache, logger)
	}
	engine, err := decision.NewEngine(engineOpts)
	if err != nil {
		return decisionStack{}, fmt.Errorf("build decision engine: %w", err)
	}

	fallback, err := loadFallbackRules(cfg.Decision)
	if err != nil {
		return decisionStack{}, fmt.Errorf("load rule set: %w", err)
	}

	decisions, err := service.NewDecisionService(service.DecisionServiceOptions{
		Engine:     engine,
		Rules:      repos.RuleRepo,
		Fallback:   fallback,
		RuleSetTTL: cfg.Cache.RuleSetTTL,
		Options: decision.Options{
			Timeout:     cfg.Decision.ValidatorTimeout,
			UseCache:    cfg.Decision.CacheEnabled,
			FillMissing: cfg.Decision.FillMissing,
		},
		Metrics: obs.Pipeline,
		Logger:  logger,
	})
	if err != nil {
		return decisionStack{}, fmt.Errorf("build decision service: %w", err)
	}
	return decisionStack{engine: engine, decisions: decisions}, nil
}

// NewServices wires repositories, the decision engine, processors, the pipeline, the runner and the sweeper.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.DB == nil {
		return ServiceContainer{}, errors.New("service deps require config and database")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	obs := buildObservability(logger, cfg.Observability)
	repos := buildRepositories(deps.DB, deps.RedisClient, logger)

	stack, err := buildDecisionStack(cfg, repos, obs, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	dedupeOpts := service.DedupeServiceOptions{
		Customers: repos.CustomerRepo,
		Config:    cfg.Dedupe,
		Logger:    logger,
	}
	if v, ok := stack.engine.Validator(model.FieldEmail); ok {
		dedupeOpts.Email = v
	}
	if v, ok := stack.engine.Validator(model.FieldPhone); ok {
		dedupeOpts.Phone = v
	}
	dedupe, err := service.NewDedupeService(dedupeOpts)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build dedupe service: %w", err)
	}

	validateProc, err := service.NewValidateProcessor(stack.decisions)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build validate processor: %w", err)
	}
	dedupeProc, err := service.NewDedupeProcessor(dedupe)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build dedupe processor: %w", err)
	}

	pipelineOpts := batch.PipelineOptions{
		Store: repos.JobRepo,
		Processors: map[model.JobType]batch.ItemProcessor{
			model.JobTypeValidate: validateProc,
			model.JobTypeDedupe:   dedupeProc,
		},
		Concurrency: cfg.Runner.ItemConcurrency,
		Metrics:     obs.Pipeline,
		Logger:      logger,
	}
	if obs.Notifier.Enabled() {
		pipelineOpts.Alerts = obs.Notifier
	}
	if repos.Progress != nil {
		pipelineOpts.Progress = repos.Progress
	}
	pipeline, err := batch.NewPipeline(pipelineOpts)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build batch pipeline: %w", err)
	}

	lease, err := domainjob.NewLeasePolicy(cfg.Runner.JobLease, 0)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("runner lease: %w", err)
	}
	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Queue:       repos.JobRepo,
		Executor:    pipeline,
		Lease:       lease,
		Concurrency: cfg.Runner.Concurrency,
		Logger:      logger,
		Metrics:     obs.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build job runner: %w", err)
	}

	sweeper, err := service.NewSweeperService(service.SweeperServiceOptions{
		Repo:    repos.JobRepo,
		Config:  cfg.Sweeper,
		Logger:  logger,
		Metrics: obs.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build sweeper: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Store:    repos.JobRepo,
		TxStore:  repos.JobRepo,
		MaxItems: cfg.Jobs.MaxItems,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build job service: %w", err)
	}

	return ServiceContainer{
		Jobs:          jobs,
		Decisions:     stack.decisions,
		Dedupe:        dedupe,
		Pipeline:      pipeline,
		Runner:        runner,
		Sweeper:       sweeper,
		Observability: obs,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
	// Signals overrides the OS shutdown signals. Tests send on it directly.
	Signals <-chan os.Signal
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] || descriptor.start == nil {
		return nil
	}
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}
		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}
	return handles
}

func buildBackgroundServices(services ServiceContainer) []backgroundService {
	out := make([]backgroundService, 0, 2)
	if services.Runner != nil {
		out = append(out, backgroundService{
			mode:  config.ServiceModeRunner,
			name:  "batch runner",
			start: services.Runner.Run,
		})
	}
	if services.Sweeper != nil {
		out = append(out, backgroundService{
			mode:  config.ServiceModeSweeper,
			name:  "lease sweeper",
			start: services.Sweeper.Run,
		})
	}
	return out
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	handles := startBackgroundServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}, buildBackgroundServices(cfg.Services))

	signals := cfg.Signals
	if signals == nil {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)
		signals = quit
	}

	return waitForShutdown(shutdownConfig{
		cancel:      cancel,
		errCh:       errCh,
		signals:     signals,
		logger:      logger,
		backgrounds: handles,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel      context.CancelFunc
	errCh       <-chan error
	signals     <-chan os.Signal
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	select {
	case sig := <-cfg.signals:
		cfg.logger.Info("shutting down services...", "signal", fmt.Sprint(sig))
		cfg.cancel() // Cancel service context before waiting
		gracefulStop(cfg)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		gracefulStop(cfg)
		return err
	}
}

// gracefulStop waits for every background service to return.
func gracefulStop(cfg shutdownConfig) {
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
