package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	API      APIConfig
	Log      LogConfig
	Gateways map[string]GatewayConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type APIConfig struct {
	Key      string
	HashFile string
}

type LogConfig struct {
	Transcripts bool
}

// GatewayConfig holds the credentials and endpoint selection for one
// configured gateway.
type GatewayConfig struct {
	Type     string            `mapstructure:"type"`
	Test     bool              `mapstructure:"test"`
	BaseURL  string            `mapstructure:"base_url"`
	Login    string            `mapstructure:"login"`
	Password string            `mapstructure:"password"`
	Secret   string            `mapstructure:"secret"`
	Account  string            `mapstructure:"account"`
	Currency string            `mapstructure:"currency"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Extra    map[string]string `mapstructure:"extra"`
}

// ExtraValue returns a vendor-specific setting.
func (g GatewayConfig) ExtraValue(key string) string {
	return g.Extra[strings.ToLower(key)]
}

// Load reads configuration from .env file, environment variables and the
// gateway fixtures file.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("API_HASH_FILE", "hash.txt")
	viper.SetDefault("FIXTURES_PATH", "fixtures.yml")
	viper.SetDefault("LOG_TRANSCRIPTS", false)

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		API: APIConfig{
			Key:      viper.GetString("API_KEY"),
			HashFile: viper.GetString("API_HASH_FILE"),
		},
		Log: LogConfig{
			Transcripts: viper.GetBool("LOG_TRANSCRIPTS"),
		},
	}

	gateways, err := LoadGateways(viper.GetString("FIXTURES_PATH"))
	if err != nil {
		return nil, err
	}
	cfg.Gateways = gateways

	if cfg.API.Key == "" {
		log.Println("WARNING: API_KEY is not set")
	}
	if len(cfg.Gateways) == 0 {
		log.Println("WARNING: no gateways configured")
	}

	return cfg, nil
}

// LoadGateways reads the gateways section of a YAML fixtures file. A
// missing file yields no gateways. Values can be overridden from the
// environment, e.g. GATEWAYS_REALEX_SECRET.
func LoadGateways(path string) (map[string]GatewayConfig, error) {
	gateways := map[string]GatewayConfig{}
	if path == "" {
		return gateways, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return gateways, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read fixtures %s: %w", path, err)
	}
	if err := v.UnmarshalKey("gateways", &gateways); err != nil {
		return nil, fmt.Errorf("decode fixtures %s: %w", path, err)
	}

	for name, g := range gateways {
		if g.Type == "" {
			g.Type = name
		}
		gateways[name] = g
	}
	return gateways, nil
}
