package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/wes-io-live/avatar-service/pkg/config"
	pkglog "github.com/weiawesome/wes-io-live/avatar-service/pkg/log"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/storage"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Cache        CacheConfig
	Avatar       AvatarConfig
	Auth         AuthConfig
	Kafka        KafkaConfig
	Storage      storage.Config
	Invalidation InvalidationConfig
	Log          pkglog.Config
}

type ServerConfig struct {
	Host string
	Port int
	// TrustProxyHeaders makes the redirect honour X-Forwarded-Proto/Host.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Driver  string        `mapstructure:"driver"` // redis, memory
	Prefix  string        `mapstructure:"prefix"`
	TTL     time.Duration `mapstructure:"ttl"`
	Size    int           `mapstructure:"size"` // memory driver only
}

type AvatarConfig struct {
	KeySecret    string        `mapstructure:"key_secret"`
	GravatarSize int           `mapstructure:"gravatar_size"`
	NoPicPath    string        `mapstructure:"no_pic_path"`
	RedirectTTL  time.Duration `mapstructure:"redirect_ttl"`
	URLExpiry    time.Duration `mapstructure:"url_expiry"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

type InvalidationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

// Load reads config from ./config/config.yaml (or file, when non-empty)
// plus environment variables.
func Load(file string) (*Config, error) {
	var (
		v   *viper.Viper
		err error
	)
	if file != "" {
		v, err = pkgconfig.LoadFile(file)
	} else {
		v, err = pkgconfig.Load("./config", "config")
	}
	if err != nil {
		return nil, err
	}

	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.boundSignedURLLifetimes()

	return &cfg, nil
}

// boundSignedURLLifetimes keeps cached and browser-cached redirects shorter
// than the presigned URLs they point at. It only applies to S3 without a
// public URL, the one backend whose URLs expire.
func (c *Config) boundSignedURLLifetimes() {
	if c.Storage.Driver != "s3" || c.Storage.S3.PublicURL != "" || c.Avatar.URLExpiry <= 0 {
		return
	}
	limit := c.Avatar.URLExpiry / 2
	if c.Cache.TTL <= 0 || c.Cache.TTL > limit {
		c.Cache.TTL = limit
	}
	if c.Avatar.RedirectTTL > limit {
		c.Avatar.RedirectTTL = limit
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.trust_proxy_headers", false)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "avatar_service")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/avatar.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.driver", "redis")
	v.SetDefault("cache.prefix", "avatar_img")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.size", 10000)
	v.SetDefault("avatar.key_secret", "")
	v.SetDefault("avatar.gravatar_size", 50)
	v.SetDefault("avatar.no_pic_path", "/images/no_pic.gif")
	v.SetDefault("avatar.redirect_ttl", "0s")
	v.SetDefault("avatar.url_expiry", "168h")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "avatar-processed")
	v.SetDefault("kafka.group_id", "avatar-service")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.base_path", "./data/thumbnails")
	v.SetDefault("storage.local.url_prefix", "/images/thumbnails")
	v.SetDefault("invalidation.enabled", false)
	v.SetDefault("invalidation.channel", "avatar:invalidate")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "avatar-service")
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("cache.driver", "CACHE_DRIVER")
	v.BindEnv("avatar.key_secret", "AVATAR_KEY_SECRET")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("storage.s3.public_url", "S3_PUBLIC_URL")
	v.BindEnv("log.level", "LOG_LEVEL")
}
