package datachangelog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jecitDev/jec-go-versioning/pkg/actorcache"
	customvalidator "github.com/jecitDev/jec-go-versioning/pkg/customValidator"
	dbconnect "github.com/jecitDev/jec-go-versioning/pkg/dbConnect"
	"github.com/jecitDev/jec-go-versioning/pkg/logger"
	"github.com/jecitDev/jec-go-versioning/pkg/pgstore"
	redisconnect "github.com/jecitDev/jec-go-versioning/pkg/redisConnect"
	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// Infrastructure is a wired versioning engine with the resources it owns
type Infrastructure struct {
	Config *Config
	Engine *versioning.Engine
	// Index is nil when the Elasticsearch history index is disabled
	Index *HistoryIndex
	Log   zerolog.Logger

	closers []func() error
}

// SetupVersioning initializes the versioning infrastructure from a YAML file:
//  1. loads the configuration, expanding ${VAR} references
//  2. connects postgres, redis and Elasticsearch for the enabled sections
//  3. registers the configured entities and optionally migrates their tables
//
// Example:
//
//	infra, err := datachangelog.SetupVersioning(ctx, "config/versioning.yaml")
//	if err != nil {
//		log.Fatalf("failed to setup versioning: %v", err)
//	}
//	defer infra.Close()
//	server := grpc.NewServer(grpc.ChainUnaryInterceptor(infra.UnaryInterceptors()...))
func SetupVersioning(ctx context.Context, configFilePath string) (*Infrastructure, error) {
	cfg, err := LoadConfigFile(configFilePath)
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.Environment, os.Stdout)
	log.Info().Str("path", configFilePath).Msg("versioning configuration loaded")
	return NewInfrastructure(ctx, cfg, log, prometheus.DefaultRegisterer)
}

// NewInfrastructure wires the engine described by cfg. Collectors are registered with reg when it is not nil.
func NewInfrastructure(ctx context.Context, cfg *Config, log zerolog.Logger, reg prometheus.Registerer) (*Infrastructure, error) {
	infra := &Infrastructure{Config: cfg, Log: log}
	ready := false
	defer func() {
		if !ready {
			infra.Close()
		}
	}()

	var (
		backend versioning.Backend
		pg      *pgstore.Backend
		names   versioning.DisplayNameResolver
	)
	if cfg.Database.Enabled {
		db, err := dbconnect.ConnectSqlxContext(ctx, cfg.Database.DBConfig)
		if err != nil {
			return nil, err
		}
		infra.closers = append(infra.closers, db.Close)
		pg = pgstore.New(db, log)
		backend = pg
		names = actorcache.NewSQLUserDirectory(db, cfg.Database.UsersTable)
		log.Info().Str("host", cfg.Database.Host).Str("dbname", cfg.Database.Dbname).Msg("postgres history backend connected")
	} else {
		backend = versioning.NewMemoryBackend()
		log.Warn().Msg("database disabled, history is kept in memory")
	}

	if cfg.Redis.Enabled && names != nil {
		client, err := redisconnect.ConnectRedisContext(ctx, cfg.Redis.RedisConfig)
		if err != nil {
			log.Warn().Err(err).Msg("actor name cache unavailable, resolving names from the database")
		} else {
			infra.closers = append(infra.closers, client.Close)
			names = actorcache.NewRedisCache(client, names, cfg.Redis.TTL, log).WithPrefix(cfg.Redis.Prefix)
		}
	}

	mirror := versioning.NewSchemaMirror()
	opts := []versioning.Option{
		versioning.WithLogger(log),
		versioning.WithMirror(mirror),
		versioning.WithMetrics(reg),
		versioning.WithDisplayNames(names),
		versioning.WithTimelineOptions(cfg.TimelineOptions()...),
	}

	if cfg.Elasticsearch.Enabled {
		repo := connectHistoryRepository(ctx, cfg.Elasticsearch, log)
		infra.closers = append(infra.closers, repo.Close)
		infra.Index = NewHistoryIndex(repo, mirror, NewSanitizer(cfg.sensitiveFields()), log)
		opts = append(opts, versioning.WithHistorySink(infra.Index), versioning.WithHistorySearcher(infra.Index))
	}

	infra.Engine = versioning.NewEngine(backend, opts...)
	for _, schema := range cfg.Entities {
		if _, err := infra.Engine.Register(schema); err != nil {
			return nil, fmt.Errorf("failed to register entity %s: %w", schema.Name, err)
		}
	}

	if pg != nil && cfg.Database.Migrate {
		if err := pg.Migrate(ctx, mirror); err != nil {
			return nil, err
		}
	}

	ready = true
	log.Info().Int("entities", len(cfg.Entities)).Bool("history_index", infra.Index != nil).Msg("versioning infrastructure initialized")
	return infra, nil
}

// connectHistoryRepository returns the Elasticsearch repository, or an in-memory one when the cluster is unreachable
func connectHistoryRepository(ctx context.Context, cfg ElasticsearchConfig, log zerolog.Logger) Repository {
	esRepo, err := NewElasticsearchRepository(cfg, log)
	if err != nil {
		log.Warn().Err(err).Msg("elasticsearch unavailable, falling back to the in-memory history index")
		return NewMemoryRepository()
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := esRepo.Health(healthCtx); err != nil {
		// index operations may still be permitted without the cluster monitor privilege
		log.Warn().Err(err).Msg("elasticsearch health check failed, continuing with the cluster")
	}
	if err := esRepo.EnsureTemplate(ctx); err != nil {
		log.Warn().Err(err).Msg("history index template not installed")
	}
	log.Info().Strs("addresses", cfg.Addresses).Msg("elasticsearch history index connected")
	return esRepo
}

// sensitiveFields merges the configured sensitive fields with the detected ones
func (c *Config) sensitiveFields() []string {
	fields := append([]string(nil), c.Global.SensitiveFields...)
	if !c.Global.AutoDetectSensitive {
		return fields
	}
	var names []string
	for _, entity := range c.Entities {
		for _, f := range entity.Fields {
			names = append(names, f.Name)
		}
	}
	return append(fields, AutoDetectSensitiveFields(names)...)
}

// UnaryInterceptors returns the server interceptors for services built on the engine, outermost first
func (i *Infrastructure) UnaryInterceptors() []grpc.UnaryServerInterceptor {
	return []grpc.UnaryServerInterceptor{
		customvalidator.GrpcErrorHandler(),
		ErrorInterceptor(),
		ActorInterceptor(&DefaultUserExtractor{}, i.Log),
	}
}

// StreamInterceptors returns the stream interceptors for services built on the engine
func (i *Infrastructure) StreamInterceptors() []grpc.StreamServerInterceptor {
	return []grpc.StreamServerInterceptor{
		StreamActorInterceptor(&DefaultUserExtractor{}, i.Log),
	}
}

// Close releases the owned resources in reverse order of acquisition
func (i *Infrastructure) Close() error {
	var errs []error
	for j := len(i.closers) - 1; j >= 0; j-- {
		if err := i.closers[j](); err != nil {
			errs = append(errs, err)
		}
	}
	i.closers = nil
	return errors.Join(errs...)
}
