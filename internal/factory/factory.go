package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/abuse"
	"otp-auth-service/internal/audit"
	"otp-auth-service/internal/bucketing"
	"otp-auth-service/internal/client"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/encryption"
	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/notify"
	"otp-auth-service/internal/otp"
	"otp-auth-service/internal/repository"
	"otp-auth-service/internal/repository/memory"
	redisstore "otp-auth-service/internal/repository/redis"
	"otp-auth-service/internal/repository/scylla"
	"otp-auth-service/internal/service"
	"otp-auth-service/internal/store"
	"otp-auth-service/internal/tls"
	"otp-auth-service/internal/util"
)

const initTimeout = 30 * time.Second

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.Client
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager

	// Storage
	store               store.Store
	userRepository      repository.UserRepository
	challengeRepository repository.ChallengeRepository

	notifier    notify.Notifier
	recorder    *audit.Multi
	authService *service.AuthService

	stopRotation context.CancelFunc
	closeOnce    sync.Once
	closed       chan struct{}
}

// NewFactory loads configuration from the environment and builds everything.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	return NewFactoryWithConfig(cfg)
}

// NewFactoryWithConfig builds every dependency from cfg. Outside production a
// backend that is unset or unreachable is replaced by its in-memory
// counterpart; in production Redis and Scylla are required.
func NewFactoryWithConfig(cfg *config.Config) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewManager(cfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	if err := f.initializeClients(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeManagers(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}
	if err := f.initializeStorage(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := f.initializeNotifier(); err != nil {
		f.Close()
		return nil, err
	}
	f.initializeAudit(ctx)
	f.initializeService()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.String("sms_provider", cfg.SMS.Provider),
		util.Int("audit_sinks", f.recorder.Len()),
	)

	return f, nil
}

// initializeClients connects to every configured backend. Redis and Scylla
// failures are fatal in production; the rest only degrade features.
func (f *Factory) initializeClients(ctx context.Context) error {
	var critical []error

	if f.config.Redis.URL != "" {
		if c, err := client.NewRedisClient(f.config); err != nil {
			critical = append(critical, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = c
		}
	}

	if len(f.config.Scylla.Nodes) > 0 {
		if c, err := scylla.NewClient(f.config); err != nil {
			critical = append(critical, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = c
		}
	}

	if len(f.config.Kafka.Brokers) > 0 {
		if p, err := client.NewKafkaProducer(f.config); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = p
		}
	}

	if f.config.Elasticsearch.URL != "" {
		if c, err := client.NewElasticsearchClient(f.config); err != nil {
			util.Warn("Elasticsearch initialization failed - events will not be indexed", util.ErrorField(err))
		} else {
			f.esClient = c
		}
	}

	if f.config.Clickhouse.URL != "" {
		if c, err := client.NewClickHouseClient(f.config); err != nil {
			util.Warn("ClickHouse initialization failed - events will not be stored for analytics", util.ErrorField(err))
		} else {
			f.clickhouseClient = c
		}
	}

	if f.config.IsProduction() {
		if f.redisClient == nil {
			critical = append(critical, errors.New("redis is required in production"))
		}
		if f.scyllaClient == nil {
			critical = append(critical, errors.New("scylla is required in production"))
		}
		if len(critical) > 0 {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(critical...))
		}
	}

	for _, err := range critical {
		util.Warn("Service initialization warning", util.ErrorField(err))
	}
	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers(ctx context.Context) error {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewManager(f.config)

	var keys encryption.KeyService
	if f.config.KMS.Enabled {
		kmsClient, err := encryption.NewKMSClient(ctx, f.config)
		if err != nil {
			return err
		}
		keys = kmsClient
	}
	f.encryptionManager = encryption.NewManager(f.config, keys)

	rotationCtx, cancel := context.WithCancel(context.Background())
	f.stopRotation = cancel
	f.hasher.StartPepperRotation(rotationCtx)

	util.Info("Managers initialized successfully",
		util.Int("pepper_version", f.hasher.CurrentVersion()),
		util.Int("user_buckets", f.bucketingManager.UserBuckets()),
		util.Int("event_buckets", f.bucketingManager.EventBuckets()),
	)
	return nil
}

func (f *Factory) initializeStorage(ctx context.Context) error {
	if f.redisClient != nil {
		f.store = redisstore.NewStore(f.redisClient)
	} else {
		util.Warn("Using in-memory store - codes and blocks are lost on restart")
		f.store = store.NewMemory(nil)
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.EnsureSchema(ctx); err != nil {
			return err
		}
		f.userRepository = scylla.NewUserRepository(f.scyllaClient, f.bucketingManager, f.encryptionManager)
		f.challengeRepository = scylla.NewChallengeRepository(f.scyllaClient)
	} else {
		util.Warn("Using in-memory user repository - users are lost on restart")
		f.userRepository = memory.NewUserRepository()
		f.challengeRepository = memory.NewChallengeRepository()
	}
	return nil
}

func (f *Factory) initializeNotifier() error {
	switch f.config.SMS.Provider {
	case "kafka":
		if f.kafkaProducer == nil {
			if f.config.IsProduction() {
				return errors.New("sms provider kafka needs a reachable kafka cluster")
			}
			util.Warn("Kafka unavailable - falling back to logging SMS notifier")
			f.notifier = notify.NewLogNotifier()
			return nil
		}
		f.notifier = notify.NewKafkaNotifier(f.kafkaProducer, f.config.Kafka.SMSTopic)
	default:
		f.notifier = notify.NewLogNotifier()
	}
	return nil
}

func (f *Factory) initializeAudit(ctx context.Context) {
	f.recorder = audit.NewMulti()

	if f.esClient != nil {
		f.recorder.Add("elasticsearch", audit.NewESRecorder(f.esClient, f.config.Elasticsearch.EventsIndex))
	}
	if f.clickhouseClient != nil {
		rec := audit.NewClickHouseRecorder(f.clickhouseClient)
		if err := rec.EnsureSchema(ctx); err != nil {
			util.Warn("ClickHouse audit sink disabled", util.ErrorField(err))
		} else {
			f.recorder.Add("clickhouse", rec)
		}
	}
	if f.kafkaProducer != nil && f.config.Kafka.EventsTopic != "" {
		f.recorder.Add("kafka", audit.NewKafkaRecorder(f.kafkaProducer, f.config.Kafka.EventsTopic))
	}
}

func (f *Factory) initializeService() {
	otps := otp.NewManager(f.store, otp.NewGenerator(f.config.OTP.Length), f.notifier,
		otp.WithTTL(f.config.OTP.TTL),
		otp.WithChallengeLog(f.challengeRepository, f.hasher),
	)
	guard := abuse.NewGuard(f.store, f.config.Abuse)

	f.authService = service.NewAuthService(
		f.userRepository,
		otps,
		guard,
		f.recorder,
		f.bucketingManager,
		util.Get(),
	)
}

// ==============================
// Health Checks
// ==============================

// HealthCheck checks every backend in use. Nil values are healthy.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	health := make(map[string]error)

	if f.redisClient != nil {
		health["redis"] = f.redisClient.HealthCheck(ctx)
	} else {
		health["store"] = nil
	}

	if f.scyllaClient != nil {
		health["scylla"] = f.scyllaClient.HealthCheck(ctx)
	}
	if f.userRepository != nil {
		health["user_repository"] = f.userRepository.HealthCheck(ctx)
	} else {
		health["user_repository"] = errors.New("user repository not initialized")
	}

	if f.esClient != nil {
		health["elasticsearch"] = f.esClient.HealthCheck(ctx)
	}
	if f.clickhouseClient != nil {
		health["clickhouse"] = f.clickhouseClient.HealthCheck(ctx)
	}
	if f.kafkaProducer != nil {
		health["kafka"] = f.kafkaProducer.HealthCheck(ctx)
	}

	return health
}

// IsHealthy ignores the optional sinks; only storage failures count.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	health := f.HealthCheck(ctx)
	for _, name := range []string{"redis", "scylla", "user_repository"} {
		if health[name] != nil {
			return false
		}
	}
	return true
}

// ==============================
// Shutdown
// ==============================

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.stopRotation != nil {
			f.stopRotation()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) AuthService() *service.AuthService {
	return f.authService
}

func (f *Factory) Store() store.Store {
	return f.store
}

func (f *Factory) Logger() *zap.Logger {
	return util.Get()
}
