package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Security  SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Port     int      `mapstructure:"port"`
	Debug    bool     `mapstructure:"debug"`
	AdminKey string   `mapstructure:"admin_key"`
	AdminIPs []string `mapstructure:"admin_ips"` // empty allows any address
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
}

// CatalogConfig points at the resource and bag definition files.
type CatalogConfig struct {
	ResourcesPath string `mapstructure:"resources_path"`
	BagsPath      string `mapstructure:"bags_path"`
}

// DefaultBag is a bag granted to an owner with no persisted inventory.
type DefaultBag struct {
	TemplateID int `mapstructure:"template_id"`
	CategoryID int `mapstructure:"category_id"`
}

type InventoryConfig struct {
	TickMs        int           `mapstructure:"tick_ms"`
	AutosaveS     int           `mapstructure:"autosave_s"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	LayoutTTL     time.Duration `mapstructure:"layout_ttl"` // 0 keeps sorted layouts forever
	DefaultBags   []DefaultBag  `mapstructure:"default_bags"`
	MaxViolations int           `mapstructure:"max_violations"` // unresolvable moves before a kick; 0 disables
	MoveRPS       float64       `mapstructure:"move_rps"`
	MoveBurst     int           `mapstructure:"move_burst"`
	CloseGrace    time.Duration `mapstructure:"close_grace"` // keep an idle room open this long for reconnects
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/satchel.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("catalog.resources_path", "./data/Resources.json")
	v.SetDefault("catalog.bags_path", "./data/Bags.json")
	v.SetDefault("inventory.tick_ms", 50)
	v.SetDefault("inventory.autosave_s", 300)
	v.SetDefault("inventory.lock_ttl", "2m")
	v.SetDefault("inventory.layout_ttl", "0s")
	v.SetDefault("inventory.default_bags", []map[string]any{{"template_id": 1, "category_id": 0}})
	v.SetDefault("inventory.max_violations", 5)
	v.SetDefault("inventory.move_rps", 20)
	v.SetDefault("inventory.move_burst", 40)
	v.SetDefault("inventory.close_grace", "30s")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
}
