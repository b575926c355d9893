package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"soc-monitor/internal/bucketing"
	"soc-monitor/internal/client"
	"soc-monitor/internal/config"
	"soc-monitor/internal/encryption"
	"soc-monitor/internal/notifier"
	"soc-monitor/internal/ratelimit"
	redisrepo "soc-monitor/internal/repository/redis"
	"soc-monitor/internal/repository/scylla"
	"soc-monitor/internal/service"
	"soc-monitor/internal/tls"
	"soc-monitor/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Repositories
	eventRepository   scylla.EventRepository
	historyRepository scylla.HistoryRepository
	profileRepository scylla.ProfileRepository
	alertRepository   scylla.AlertRepository
	rateLimitCache    *redisrepo.RateLimitCache

	limiter        ratelimit.Limiter
	sink           notifier.Notifier
	serviceFactory *service.ServiceFactory

	sweeperStop chan struct{}
	closeOnce   sync.Once
	closed      chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewTLSManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.String("rate_limit_backend", cfg.RateLimit.Backend),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if rc, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if sc, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = sc
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka is an audit sink; the pipeline survives without it
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch
	if ec, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = ec
		if err := f.esClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse
	if cc, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = cc
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes encryption and bucketing managers
func (f *Factory) initializeManagers() {
	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("AWS config load failed - falling back to local encryption keys", util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
	)
}

// ==============================
// Repository Initialization
// ==============================

func (f *Factory) EventRepository() scylla.EventRepository {
	if f.eventRepository == nil {
		f.eventRepository = scylla.NewEventRepository(f.ScyllaClient(), f.BucketingManager(), util.Get())
	}
	return f.eventRepository
}

func (f *Factory) HistoryRepository() scylla.HistoryRepository {
	if f.historyRepository == nil {
		f.historyRepository = scylla.NewHistoryRepository(f.ScyllaClient(), f.BucketingManager(), util.Get())
	}
	return f.historyRepository
}

func (f *Factory) ProfileRepository() scylla.ProfileRepository {
	if f.profileRepository == nil {
		f.profileRepository = scylla.NewProfileRepository(
			f.ScyllaClient(),
			f.BucketingManager(),
			f.EncryptionManager(),
			util.Get(),
		)
	}
	return f.profileRepository
}

func (f *Factory) AlertRepository() scylla.AlertRepository {
	if f.alertRepository == nil {
		f.alertRepository = scylla.NewAlertRepository(f.ScyllaClient(), f.BucketingManager(), util.Get())
	}
	return f.alertRepository
}

func (f *Factory) RateLimitCache() *redisrepo.RateLimitCache {
	if f.rateLimitCache == nil {
		f.rateLimitCache = redisrepo.NewRateLimitCache(f.redisClient)
	}
	return f.rateLimitCache
}

// ==============================
// Rate Limiter
// ==============================

// Limiter returns the origin admission limiter selected by configuration.
// The Redis backend shares counters across replicas; memory is per-process.
func (f *Factory) Limiter() ratelimit.Limiter {
	if f.limiter == nil {
		rl := f.config.RateLimit
		if rl.Backend == "redis" && f.redisClient != nil {
			f.limiter = ratelimit.NewRedisLimiter(f.RateLimitCache(), rl.Window, rl.MaxRequests)
			util.Info("Rate limiter initialized", util.String("backend", "redis"))
		} else {
			mem := ratelimit.NewMemoryLimiter(rl.Window, rl.MaxRequests)
			f.sweeperStop = make(chan struct{})
			mem.StartSweeper(rl.Window, f.sweeperStop)
			f.limiter = mem
			util.Info("Rate limiter initialized", util.String("backend", "memory"))
		}
	}
	return f.limiter
}

// ==============================
// Notification Sink
// ==============================

func (f *Factory) Notifier() notifier.Notifier {
	if f.sink == nil {
		if f.config.Alerts.EmailTo != "" {
			f.sink = notifier.NewSMTPNotifier(&f.config.Alerts)
			util.Info("SMTP notifier initialized", util.String("to", f.config.Alerts.EmailTo))
		} else {
			f.sink = notifier.Noop{}
			util.Info("No alert recipient configured - notifications disabled")
		}
	}
	return f.sink
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.config,
			f.EventRepository(),
			f.HistoryRepository(),
			f.ProfileRepository(),
			f.AlertRepository(),
			f.Notifier(),
			f.kafkaProducer,
			f.esClient,
			f.clickhouseClient,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	} else {
		healthErrors["elasticsearch"] = fmt.Errorf("elasticsearch client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}
	if f.bucketingManager == nil {
		healthErrors["bucketing"] = fmt.Errorf("bucketing manager not initialized")
	}

	return healthErrors
}

// ==============================
// Other Utility Methods
// ==============================

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.sweeperStop != nil {
			close(f.sweeperStop)
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ScyllaClient() *scylla.ScyllaClient {
	return f.scyllaClient
}

func (f *Factory) EncryptionManager() *encryption.EncryptionManager {
	return f.encryptionManager
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
