package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"       yaml:"http"`
	Database  DatabaseConfig  `mapstructure:"database"   yaml:"database"`
	GeoServer GeoServerConfig `mapstructure:"geoserver"  yaml:"geoserver"`
	TileCache TileCacheConfig `mapstructure:"tile_cache" yaml:"tile_cache"`
	Storage   StorageConfig   `mapstructure:"storage"    yaml:"storage"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"    yaml:"cleanup"`
	Layer     LayerConfig     `mapstructure:"layer"      yaml:"layer"`
	Redis     RedisConfig     `mapstructure:"redis"      yaml:"redis"`
	Log       LogConfig       `mapstructure:"log"        yaml:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// EditorToken is the bearer token mutating routes require.
	EditorToken     string        `mapstructure:"editor_token"     yaml:"editor_token"`
	UploadDir       string        `mapstructure:"upload_dir"       yaml:"upload_dir"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"              yaml:"host"`
	Port            string        `mapstructure:"port"              yaml:"port"`
	User            string        `mapstructure:"user"              yaml:"user"`
	Password        string        `mapstructure:"password"          yaml:"password"`
	DBName          string        `mapstructure:"dbname"            yaml:"dbname"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// DSN is the libpq connection string of the database.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port)
}

type BBoxConfig struct {
	MinX float64 `mapstructure:"minx" yaml:"minx"`
	MinY float64 `mapstructure:"miny" yaml:"miny"`
	MaxX float64 `mapstructure:"maxx" yaml:"maxx"`
	MaxY float64 `mapstructure:"maxy" yaml:"maxy"`
}

type GeoServerConfig struct {
	URL            string        `mapstructure:"url"             yaml:"url"`
	User           string        `mapstructure:"user"            yaml:"user"`
	Password       string        `mapstructure:"password"        yaml:"password"`
	Workspace      string        `mapstructure:"workspace"       yaml:"workspace"`
	Store          string        `mapstructure:"store"           yaml:"store"`
	AreaStyle      string        `mapstructure:"area_style"      yaml:"area_style"`
	CentroidStyle  string        `mapstructure:"centroid_style"  yaml:"centroid_style"`
	HiddenRoles    []string      `mapstructure:"hidden_roles"    yaml:"hidden_roles"`
	PublicRoles    []string      `mapstructure:"public_roles"    yaml:"public_roles"`
	EditorRoles    []string      `mapstructure:"editor_roles"    yaml:"editor_roles"`
	NativeBBox     BBoxConfig    `mapstructure:"native_bbox"     yaml:"native_bbox"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

type TileCacheConfig struct {
	GridSRID  int    `mapstructure:"grid_srid"   yaml:"grid_srid"`
	GridSetID string `mapstructure:"grid_set_id" yaml:"grid_set_id"`
	Format    string `mapstructure:"format"      yaml:"format"`
	ZoomStart int    `mapstructure:"zoom_start"  yaml:"zoom_start"`
	ZoomStop  int    `mapstructure:"zoom_stop"   yaml:"zoom_stop"`
}

type StorageConfig struct {
	Endpoint              string        `mapstructure:"endpoint"                yaml:"endpoint"`
	AccessKey             string        `mapstructure:"access_key"              yaml:"access_key"`
	SecretKey             string        `mapstructure:"secret_key"              yaml:"secret_key"`
	Region                string        `mapstructure:"region"                  yaml:"region"`
	Secure                bool          `mapstructure:"secure"                  yaml:"secure"`
	BucketPrefix          string        `mapstructure:"bucket_prefix"           yaml:"bucket_prefix"`
	PublicBaseURL         string        `mapstructure:"public_base_url"         yaml:"public_base_url"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"            yaml:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout" yaml:"response_header_timeout"`
}

type CleanupConfig struct {
	Interval          time.Duration `mapstructure:"interval"            yaml:"interval"`
	Limit             int           `mapstructure:"limit"               yaml:"limit"`
	MaxBackoffMinutes int           `mapstructure:"max_backoff_minutes" yaml:"max_backoff_minutes"`
}

type LayerConfig struct {
	SRID    int    `mapstructure:"srid"     yaml:"srid"`
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir"`
}

// RedisConfig selects the redis layer locks. An empty Addr keeps the locks
// inside the process.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"       yaml:"addr"`
	Password  string        `mapstructure:"password"   yaml:"password"`
	DB        int           `mapstructure:"db"         yaml:"db"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"   yaml:"lock_ttl"`
}

type LogConfig struct {
	Level    string            `mapstructure:"level"    yaml:"level"`
	JSON     bool              `mapstructure:"json"     yaml:"json"`
	File     string            `mapstructure:"file"     yaml:"file"`
	Rotation LogRotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

type LogRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"    yaml:"max_size"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"     yaml:"max_age"`
	Compress   bool `mapstructure:"compress"    yaml:"compress"`
}

func Defaults() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     5 * time.Minute,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			DBName:          "layersync",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		GeoServer: GeoServerConfig{
			URL:            "http://localhost:8080/geoserver",
			User:           "admin",
			Workspace:      "layersync",
			Store:          "postgis",
			HiddenRoles:    []string{"ROLE_ADMINISTRATOR"},
			PublicRoles:    []string{"ROLE_AUTHENTICATED", "ROLE_ANONYMOUS"},
			EditorRoles:    []string{"ROLE_ADMINISTRATOR"},
			NativeBBox:     BBoxConfig{MinX: -548576, MinY: 6291456, MaxX: 1548576, MaxY: 8388608},
			ConnectTimeout: 5 * time.Second,
			RequestTimeout: 120 * time.Second,
		},
		TileCache: TileCacheConfig{
			GridSRID:  3067,
			GridSetID: "ETRS-TM35FIN",
			Format:    "image/png",
			ZoomStart: 0,
			ZoomStop:  15,
		},
		Storage: StorageConfig{
			Endpoint:              "localhost:9000",
			Region:                "us-east-1",
			BucketPrefix:          "layersync",
			DialTimeout:           5 * time.Second,
			ResponseHeaderTimeout: 120 * time.Second,
		},
		Cleanup: CleanupConfig{
			Interval:          5 * time.Minute,
			Limit:             50,
			MaxBackoffMinutes: 60,
		},
		Layer: LayerConfig{
			SRID: 3067,
		},
		Redis: RedisConfig{
			KeyPrefix: "layersync:",
			LockTTL:   10 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
			Rotation: LogRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
			},
		},
	}
}

// setDefaults registers every key with viper, which AutomaticEnv needs to
// find environment overrides for keys missing from the file.
func setDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.editor_token", d.HTTP.EditorToken)
	v.SetDefault("http.upload_dir", d.HTTP.UploadDir)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)

	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)

	v.SetDefault("geoserver.url", d.GeoServer.URL)
	v.SetDefault("geoserver.user", d.GeoServer.User)
	v.SetDefault("geoserver.password", d.GeoServer.Password)
	v.SetDefault("geoserver.workspace", d.GeoServer.Workspace)
	v.SetDefault("geoserver.store", d.GeoServer.Store)
	v.SetDefault("geoserver.area_style", d.GeoServer.AreaStyle)
	v.SetDefault("geoserver.centroid_style", d.GeoServer.CentroidStyle)
	v.SetDefault("geoserver.hidden_roles", d.GeoServer.HiddenRoles)
	v.SetDefault("geoserver.public_roles", d.GeoServer.PublicRoles)
	v.SetDefault("geoserver.editor_roles", d.GeoServer.EditorRoles)
	v.SetDefault("geoserver.native_bbox.minx", d.GeoServer.NativeBBox.MinX)
	v.SetDefault("geoserver.native_bbox.miny", d.GeoServer.NativeBBox.MinY)
	v.SetDefault("geoserver.native_bbox.maxx", d.GeoServer.NativeBBox.MaxX)
	v.SetDefault("geoserver.native_bbox.maxy", d.GeoServer.NativeBBox.MaxY)
	v.SetDefault("geoserver.connect_timeout", d.GeoServer.ConnectTimeout)
	v.SetDefault("geoserver.request_timeout", d.GeoServer.RequestTimeout)

	v.SetDefault("tile_cache.grid_srid", d.TileCache.GridSRID)
	v.SetDefault("tile_cache.grid_set_id", d.TileCache.GridSetID)
	v.SetDefault("tile_cache.format", d.TileCache.Format)
	v.SetDefault("tile_cache.zoom_start", d.TileCache.ZoomStart)
	v.SetDefault("tile_cache.zoom_stop", d.TileCache.ZoomStop)

	v.SetDefault("storage.endpoint", d.Storage.Endpoint)
	v.SetDefault("storage.access_key", d.Storage.AccessKey)
	v.SetDefault("storage.secret_key", d.Storage.SecretKey)
	v.SetDefault("storage.region", d.Storage.Region)
	v.SetDefault("storage.secure", d.Storage.Secure)
	v.SetDefault("storage.bucket_prefix", d.Storage.BucketPrefix)
	v.SetDefault("storage.public_base_url", d.Storage.PublicBaseURL)
	v.SetDefault("storage.dial_timeout", d.Storage.DialTimeout)
	v.SetDefault("storage.response_header_timeout", d.Storage.ResponseHeaderTimeout)

	v.SetDefault("cleanup.interval", d.Cleanup.Interval)
	v.SetDefault("cleanup.limit", d.Cleanup.Limit)
	v.SetDefault("cleanup.max_backoff_minutes", d.Cleanup.MaxBackoffMinutes)

	v.SetDefault("layer.srid", d.Layer.SRID)
	v.SetDefault("layer.temp_dir", d.Layer.TempDir)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("redis.lock_ttl", d.Redis.LockTTL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.rotation.max_size", d.Log.Rotation.MaxSize)
	v.SetDefault("log.rotation.max_backups", d.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age", d.Log.Rotation.MaxAge)
	v.SetDefault("log.rotation.compress", d.Log.Rotation.Compress)
}

var envFiles = []string{".env", ".env.local"}

// Load reads the configuration file at path, or config.yaml from the usual
// places when path is empty. .env files and LAYERSYNC_* variables override
// the file, so LAYERSYNC_DATABASE_HOST sets database.host.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for _, envFile := range envFiles {
		_ = godotenv.Load(envFile)
	}

	if path != "" {
		v.SetConfigFile(path)
		for _, envFile := range envFiles {
			_ = godotenv.Load(filepath.Join(filepath.Dir(path), envFile))
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/layersync")
	}

	v.SetEnvPrefix("LAYERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
