package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"notionsync/internal/config"
	"notionsync/internal/dbclient"
	"notionsync/internal/domain"
	"notionsync/internal/etl"
	"notionsync/internal/etl/sources"
	"notionsync/internal/logging"
	"notionsync/internal/metrics"
	"notionsync/internal/relations"
	"notionsync/internal/secret"
	"notionsync/internal/service"
	"notionsync/internal/storage"
	"notionsync/internal/warehouse"
)

const defaultConfigFile = "notionsync.yaml"

// needs selects which collaborators a command opens.
type needs struct {
	source      bool
	destination bool
	state       bool
}

// runtime is everything a command works with. Close releases it.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	secrets secret.SecretStore
	metrics *metrics.Metrics

	notion  *sources.NotionClient
	conn    *dbclient.Conn
	archive *dbclient.MongoArchive
	runs    *storage.RunStore

	closers []func()
}

// load reads configuration and builds the logger.
func (g *globalOptions) load() (*config.Config, *zap.Logger, error) {
	path := g.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	cfg, err := config.Load(path, g.envFiles...)
	if err != nil {
		return nil, nil, err
	}
	if g.env != "" {
		cfg.Environment = domain.Environment(strings.ToLower(g.env))
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// open loads configuration and opens what n asks for. Any failure here is a
// setup failure.
func (g *globalOptions) open(ctx context.Context, n needs) (*runtime, error) {
	cfg, logger, err := g.load()
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		secrets: cfg.SecretStore(),
		metrics: metrics.New(),
	}
	rt.closers = append(rt.closers, func() { _ = logger.Sync() })

	if err := cfg.EnsureDirectories(); err != nil {
		rt.Close()
		return nil, err
	}

	if n.source {
		if err := rt.openSource(); err != nil {
			rt.Close()
			return nil, err
		}
	}
	if n.destination {
		if err := rt.openDestination(ctx); err != nil {
			rt.Close()
			return nil, err
		}
	}
	if n.state {
		db, err := storage.New(cfg.StatePath)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open run history: %w", err)
		}
		rt.runs = storage.NewRunStore(db)
		rt.closers = append(rt.closers, func() { db.Close() })
	}
	if n.source && n.destination {
		rt.openArchive()
	}
	return rt, nil
}

func (rt *runtime) openSource() error {
	token, err := rt.cfg.NotionToken(rt.secrets)
	if err != nil {
		return fmt.Errorf("resolve notion token: %w", err)
	}
	n := rt.cfg.Notion
	client, err := sources.NewNotionClient(sources.NotionConfig{
		Token:           token,
		BaseURL:         n.BaseURL,
		Version:         n.Version,
		PageSize:        n.PageSize,
		MinInterval:     n.MinInterval.Duration(),
		Timeout:         n.Timeout.Duration(),
		BreakerFailures: n.BreakerFailures,
		BreakerCooldown: n.BreakerCooldown.Duration(),
	}, rt.logger)
	if err != nil {
		return err
	}
	rt.notion = client
	return nil
}

func (rt *runtime) openDestination(ctx context.Context) error {
	params, err := rt.cfg.Connection(rt.secrets)
	if err != nil {
		return err
	}
	conn, err := dbclient.Open(ctx, params)
	if err != nil {
		return fmt.Errorf("connect to %s destination: %w", rt.cfg.Environment, err)
	}
	rt.conn = conn
	rt.closers = append(rt.closers, func() { conn.Close() })
	rt.logger.Info("cli: destination connected",
		zap.String("environment", string(rt.cfg.Environment)),
		zap.String("driver", string(params.Driver)),
	)
	return nil
}

// openArchive enables the raw page archive when a URI is configured. The
// archive is optional, so failures are only logged.
func (rt *runtime) openArchive() {
	uri, err := rt.cfg.MongoURI(rt.secrets)
	if err != nil || uri == "" {
		return
	}
	archive, err := dbclient.NewMongoArchive(uri, rt.cfg.Mongo.Database, rt.cfg.Mongo.Collection)
	if err != nil {
		rt.logger.Warn("cli: raw archive disabled", zap.Error(err))
		return
	}
	rt.archive = archive
	rt.closers = append(rt.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = archive.Close(ctx)
	})
}

// Close releases everything open, newest first.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// relationOptions returns the configured relations pass options.
func (rt *runtime) relationOptions() (relations.Options, error) {
	policy, err := relations.ParsePolicy(rt.cfg.Relations.Policy)
	if err != nil {
		return relations.Options{}, err
	}
	return relations.Options{
		Policy:        policy,
		ApplyPolicies: rt.cfg.Relations.ApplyPolicies,
		PolicyRole:    rt.cfg.Relations.PolicyRole,
	}, nil
}

// newSyncService wires the engine, the materializer and the run history.
func (rt *runtime) newSyncService() (*service.SyncService, error) {
	relOpts, err := rt.relationOptions()
	if err != nil {
		return nil, err
	}

	var engine *etl.Engine
	if rt.notion != nil && rt.conn != nil {
		wh := warehouse.New(rt.conn,
			warehouse.WithBatchSize(rt.cfg.Sync.BatchSize),
			warehouse.WithLogger(rt.logger),
		)
		engine = etl.NewEngine(rt.notion, wh, rt.logger)
		engine.Observer = rt.metrics
		if rt.archive != nil {
			engine.Archive = rt.archive
		}
	}
	var materializer *relations.Materializer
	if rt.conn != nil {
		materializer = relations.New(rt.conn,
			relations.WithLogger(rt.logger),
			relations.WithObserver(rt.metrics),
		)
	}

	options := []service.Option{
		service.WithLogger(rt.logger),
		service.WithPassObserver(rt.metrics),
	}
	if rt.runs != nil {
		options = append(options, service.WithRunStore(rt.runs))
	}
	return service.NewSyncService(engine, materializer, service.Options{
		Environment:     rt.cfg.Environment,
		CollectionsPath: rt.cfg.Sync.CollectionsPath,
		RelationsPath:   rt.cfg.Relations.Path,
		Relations:       rt.cfg.Sync.Relations,
		RelationOptions: relOpts,
		PollEvery:       rt.cfg.Sync.PollEvery.Duration(),
		Schedule:        rt.cfg.Sync.Schedule,
		WatchFiles:      rt.cfg.Sync.WatchFiles,
	}, options...), nil
}
