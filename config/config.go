package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	// Engine binaries and tuning.
	EngineBin       string        `mapstructure:"ENGINE_BIN"`
	ProbeBin        string        `mapstructure:"PROBE_BIN"`
	EngineExtraArgs string        `mapstructure:"ENGINE_EXTRA_ARGS"`
	StageTimeout    time.Duration `mapstructure:"STAGE_TIMEOUT"`

	// Worker pool.
	Workers       int           `mapstructure:"WORKERS"`
	PollInterval  time.Duration `mapstructure:"POLL_INTERVAL"`
	MaxRetries    int           `mapstructure:"MAX_RETRIES"`
	RetryBackoff  time.Duration `mapstructure:"RETRY_BACKOFF"`
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepMaxAge   time.Duration `mapstructure:"SWEEP_MAX_AGE"`
	WorkDir       string        `mapstructure:"WORK_DIR"`

	// Admission throttling. CPU is a used-percent ceiling, the other two
	// are minimum free amounts.
	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`

	// HTTP.
	Port       string `mapstructure:"PORT"`
	BaseURL    string `mapstructure:"BASE"`
	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`

	// Media storage: "local" or "minio".
	StorageBackend string        `mapstructure:"STORAGE_BACKEND"`
	MediaDir       string        `mapstructure:"MEDIA_DIR"`
	MaxInputSize   int64         `mapstructure:"MAX_INPUT_SIZE"`
	MinioEndpoint  string        `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string        `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string        `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string        `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool          `mapstructure:"MINIO_USE_SSL"`
	MinioRegion    string        `mapstructure:"MINIO_REGION"`
	MinioURLTTL    time.Duration `mapstructure:"MINIO_URL_TTL"`

	// Task store: "memory" or "redis".
	StoreBackend  string `mapstructure:"STORE_BACKEND"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Defaults are strings where a hook parses them.
	vp.SetDefault("ENGINE_BIN", "ffmpeg")
	vp.SetDefault("PROBE_BIN", "ffprobe")
	vp.SetDefault("ENGINE_EXTRA_ARGS", "")
	vp.SetDefault("STAGE_TIMEOUT", "12m3s")
	vp.SetDefault("WORKERS", 2)
	vp.SetDefault("POLL_INTERVAL", "2s")
	vp.SetDefault("MAX_RETRIES", 3)
	vp.SetDefault("RETRY_BACKOFF", "5s")
	vp.SetDefault("SWEEP_INTERVAL", "20m")
	vp.SetDefault("SWEEP_MAX_AGE", "1h23m")
	vp.SetDefault("WORK_DIR", "")
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("STORAGE_BACKEND", "local")
	vp.SetDefault("MEDIA_DIR", "./media")
	vp.SetDefault("MAX_INPUT_SIZE", "200MB")
	vp.SetDefault("MINIO_ENDPOINT", "")
	vp.SetDefault("MINIO_ACCESS_KEY", "")
	vp.SetDefault("MINIO_SECRET_KEY", "")
	vp.SetDefault("MINIO_BUCKET", "mediaforge")
	vp.SetDefault("MINIO_USE_SSL", false)
	vp.SetDefault("MINIO_REGION", "")
	vp.SetDefault("MINIO_URL_TTL", "24h")
	vp.SetDefault("STORE_BACKEND", "memory")
	vp.SetDefault("REDIS_ADDR", "localhost:6379")
	vp.SetDefault("REDIS_PASSWORD", "")
	vp.SetDefault("REDIS_DB", 0)
	vp.SetDefault("REDIS_PREFIX", "mediaforge")
	vp.SetDefault("LOG_LEVEL", "info")

	vp.SetConfigName("mediaforge_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/mediaforge/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("MEDIAFORGE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// Durations parse before sizes; a value the duration hook converts is
	// passed through the size hook untouched.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
