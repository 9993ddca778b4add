package config

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	KMS           KMSConfig
	OTP           OTPConfig
	Abuse         AbuseConfig
	SMS           SMSConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// TrustedProxies lists the CIDRs whose forwarding headers name the client.
	// Empty means the connection address is always used.
	TrustedProxies []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers     []string
	SMSTopic    string
	EventsTopic string
}

type ElasticsearchConfig struct {
	URL         string
	Username    string
	Password    string
	EventsIndex string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
	CAFile   string
}

type HashingConfig struct {
	Argon2MemoryCost   int
	Argon2TimeCost     int
	Argon2Parallelism  int
	PepperRotationDays int
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

// OTPConfig controls code shape and lifetime.
type OTPConfig struct {
	Length int
	TTL    time.Duration
}

// AbuseConfig controls per-IP failure counting and blocking.
type AbuseConfig struct {
	MaxFailures   int
	FailureWindow time.Duration
	BlockDuration time.Duration
}

// SMSConfig selects the delivery channel: "log" or "kafka".
type SMSConfig struct {
	Provider string
}

var (
	loaded   *Config
	loadOnce sync.Once
)

// LoadConfig reads .env (if present) and the process environment once.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()
		loaded = FromViper(newViper())
	})
	return loaded
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvDevelopment)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls_port", 8443)
	v.SetDefault("server.enable_tls", false)
	v.SetDefault("server.auto_cert", false)
	v.SetDefault("server.domain", "localhost")
	v.SetDefault("server.auto_cert_dir", "./certs")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("scylla.nodes", "localhost:9042")
	v.SetDefault("scylla.keyspace", "otp_auth")

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.sms_topic", "sms.otp")
	v.SetDefault("kafka.events_topic", "auth.security-events")

	v.SetDefault("elasticsearch.url", "http://localhost:9200")
	v.SetDefault("elasticsearch.events_index", "auth-security-events")

	v.SetDefault("clickhouse.url", "localhost:9000")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.database", "otp_auth")

	v.SetDefault("hashing.argon2_memory_cost", 64*1024)
	v.SetDefault("hashing.argon2_time_cost", 1)
	v.SetDefault("hashing.argon2_parallelism", 2)
	v.SetDefault("hashing.pepper_rotation_days", 30)

	v.SetDefault("bucketing.user_buckets", 256)
	v.SetDefault("bucketing.event_buckets", 64)

	v.SetDefault("kms.enabled", false)
	v.SetDefault("kms.region", "us-east-1")

	v.SetDefault("otp.length", 6)
	v.SetDefault("otp.ttl", 60*time.Second)

	v.SetDefault("abuse.max_failures", 3)
	v.SetDefault("abuse.failure_window", time.Hour)
	v.SetDefault("abuse.block_duration", time.Hour)

	v.SetDefault("sms.provider", "log")
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Environment: strings.ToLower(v.GetString("environment")),
		Server: ServerConfig{
			Port:         v.GetInt("server.port"),
			TLSPort:      v.GetInt("server.tls_port"),
			EnableTLS:    v.GetBool("server.enable_tls"),
			AutoCert:     v.GetBool("server.auto_cert"),
			Domain:       v.GetString("server.domain"),
			CertFile:     v.GetString("server.cert_file"),
			KeyFile:      v.GetString("server.key_file"),
			AutoCertDir:  v.GetString("server.auto_cert_dir"),
			Email:        v.GetString("server.email"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			IdleTimeout:  v.GetDuration("server.idle_timeout"),

			TrustedProxies: splitList(v.GetString("server.trusted_proxies")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Redis: RedisConfig{
			URL:      v.GetString("redis.url"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			PoolSize: v.GetInt("redis.pool_size"),
		},
		Scylla: ScyllaConfig{
			Nodes:    splitList(v.GetString("scylla.nodes")),
			Keyspace: v.GetString("scylla.keyspace"),
			Username: v.GetString("scylla.username"),
			Password: v.GetString("scylla.password"),
		},
		Kafka: KafkaConfig{
			Brokers:     splitList(v.GetString("kafka.brokers")),
			SMSTopic:    v.GetString("kafka.sms_topic"),
			EventsTopic: v.GetString("kafka.events_topic"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:         v.GetString("elasticsearch.url"),
			Username:    v.GetString("elasticsearch.username"),
			Password:    v.GetString("elasticsearch.password"),
			EventsIndex: v.GetString("elasticsearch.events_index"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      v.GetString("clickhouse.url"),
			Username: v.GetString("clickhouse.username"),
			Password: v.GetString("clickhouse.password"),
			Database: v.GetString("clickhouse.database"),
			CAFile:   v.GetString("clickhouse.ca_file"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:   v.GetInt("hashing.argon2_memory_cost"),
			Argon2TimeCost:     v.GetInt("hashing.argon2_time_cost"),
			Argon2Parallelism:  v.GetInt("hashing.argon2_parallelism"),
			PepperRotationDays: v.GetInt("hashing.pepper_rotation_days"),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  v.GetInt("bucketing.user_buckets"),
			EventBuckets: v.GetInt("bucketing.event_buckets"),
		},
		KMS: KMSConfig{
			Enabled: v.GetBool("kms.enabled"),
			KeyID:   v.GetString("kms.key_id"),
			Region:  v.GetString("kms.region"),
		},
		OTP: OTPConfig{
			Length: v.GetInt("otp.length"),
			TTL:    v.GetDuration("otp.ttl"),
		},
		Abuse: AbuseConfig{
			MaxFailures:   v.GetInt("abuse.max_failures"),
			FailureWindow: v.GetDuration("abuse.failure_window"),
			BlockDuration: v.GetDuration("abuse.block_duration"),
		},
		SMS: SMSConfig{
			Provider: strings.ToLower(v.GetString("sms.provider")),
		},
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.OTP.Length <= 0 {
		return fmt.Errorf("otp length must be positive, got %d", c.OTP.Length)
	}
	if c.OTP.TTL <= 0 {
		return fmt.Errorf("otp ttl must be positive, got %s", c.OTP.TTL)
	}
	if c.Abuse.MaxFailures <= 0 {
		return fmt.Errorf("abuse max failures must be positive, got %d", c.Abuse.MaxFailures)
	}
	if c.Abuse.FailureWindow <= 0 || c.Abuse.BlockDuration <= 0 {
		return fmt.Errorf("abuse window and block duration must be positive")
	}
	if c.Bucketing.UserBuckets <= 0 || c.Bucketing.EventBuckets <= 0 {
		return fmt.Errorf("bucket counts must be positive")
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		return fmt.Errorf("kms key id is required when kms is enabled")
	}
	for _, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid trusted proxy range %q: %w", cidr, err)
		}
	}
	switch c.SMS.Provider {
	case "log", "kafka":
	default:
		return fmt.Errorf("unknown sms provider %q", c.SMS.Provider)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
