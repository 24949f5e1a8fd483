package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// FileName is the config file looked up in the config directory.
const FileName = "teachingmarkers.cfg.json"

// BroadcastConfig holds static broadcaster settings
type BroadcastConfig struct {
	Interval   time.Duration
	Topic      string
	Durability string
}

// RelayConfig holds publish relay settings
type RelayConfig struct {
	Capacity int
	Policy   string
}

// WebsocketConfig holds WebSocket bridge settings
type WebsocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// RedisConfig holds Redis transport settings
type RedisConfig struct {
	Addr   string `json:"addr" mapstructure:"addr"`
	Prefix string `json:"prefix" mapstructure:"prefix"`
}

// TransportConfig selects and configures the outbound transport
type TransportConfig struct {
	Type      string
	Websocket WebsocketConfig
	Redis     RedisConfig
}

// SQLiteConfig holds SQLite catalog settings
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// CatalogConfig selects where frames and markers are stored between runs
type CatalogConfig struct {
	Type   string
	SQLite SQLiteConfig
}

// APIConfig holds admin HTTP API settings
type APIConfig struct {
	Enabled bool
	Listen  string
}

// MonitorConfig holds performance monitor settings
type MonitorConfig struct {
	Interval time.Duration
}

// Anchor places a frame at a geodetic position.
type Anchor struct {
	Longitude float64 `json:"longitude" mapstructure:"longitude"`
	Latitude  float64 `json:"latitude" mapstructure:"latitude"`
	Altitude  float64 `json:"altitude" mapstructure:"altitude"`
}

// FrameConfig is one seed frame of the registry. Either Translation or
// Anchor positions the child; Anchor is resolved against the geo origin.
type FrameConfig struct {
	Parent      string           `json:"parent" mapstructure:"parent"`
	Child       string           `json:"child" mapstructure:"child"`
	Translation core.Vector3     `json:"translation" mapstructure:"translation"`
	Rotation    *core.Quaternion `json:"rotation" mapstructure:"rotation"`
	Anchor      *Anchor          `json:"anchor" mapstructure:"anchor"`
	Activity    string           `json:"activity" mapstructure:"activity"`
}

// VisualConfig is the config form of a marker visual.
type VisualConfig struct {
	Type         string         `json:"type" mapstructure:"type"`
	MeshResource string         `json:"meshResource" mapstructure:"meshResource"`
	Scale        core.Vector3   `json:"scale" mapstructure:"scale"`
	Color        core.ColorRGBA `json:"color" mapstructure:"color"`
	Position     core.Vector3   `json:"position" mapstructure:"position"`
}

// MarkerConfig is one marker created at startup.
type MarkerConfig struct {
	Name        string        `json:"name" mapstructure:"name"`
	SpawnFrame  string        `json:"spawnFrame" mapstructure:"spawnFrame"`
	InitialPose *core.Pose    `json:"initialPose" mapstructure:"initialPose"`
	Visual      *VisualConfig `json:"visual" mapstructure:"visual"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./tmlogs")
	viper.SetDefault("nodeId", "teaching_markers_server")

	viper.SetDefault("broadcast.interval", "100ms")
	viper.SetDefault("broadcast.topic", "tf_static")
	viper.SetDefault("broadcast.durability", "transient_local")

	viper.SetDefault("relay.capacity", 4096)
	viper.SetDefault("relay.policy", "block")

	viper.SetDefault("transport.type", "latched")
	viper.SetDefault("transport.websocket.url", "ws://localhost:9090/bridge")
	viper.SetDefault("transport.websocket.secret", "")
	viper.SetDefault("transport.redis.addr", "localhost:6379")
	viper.SetDefault("transport.redis.prefix", "teachingmarkers")

	viper.SetDefault("catalog.type", "none")
	viper.SetDefault("catalog.sqlite.path", "./teachingmarkers.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "teachingmarkers")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "teachingmarkers")
	viper.SetDefault("influx.bucket", "teachingmarkers-performance")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", ":8089")

	viper.SetDefault("monitor.interval", "1s")

	viper.SetDefault("geo.origin.longitude", 0.0)
	viper.SetDefault("geo.origin.latitude", 0.0)
	viper.SetDefault("geo.origin.altitude", 0.0)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetBroadcastConfig returns the static broadcaster settings.
func GetBroadcastConfig() BroadcastConfig {
	return BroadcastConfig{
		Interval:   viper.GetDuration("broadcast.interval"),
		Topic:      viper.GetString("broadcast.topic"),
		Durability: viper.GetString("broadcast.durability"),
	}
}

// GetRelayConfig returns the publish relay settings.
func GetRelayConfig() RelayConfig {
	return RelayConfig{
		Capacity: viper.GetInt("relay.capacity"),
		Policy:   viper.GetString("relay.policy"),
	}
}

// GetTransportConfig returns the outbound transport settings.
func GetTransportConfig() TransportConfig {
	return TransportConfig{
		Type: viper.GetString("transport.type"),
		Websocket: WebsocketConfig{
			URL:    viper.GetString("transport.websocket.url"),
			Secret: viper.GetString("transport.websocket.secret"),
		},
		Redis: RedisConfig{
			Addr:   viper.GetString("transport.redis.addr"),
			Prefix: viper.GetString("transport.redis.prefix"),
		},
	}
}

// GetCatalogConfig returns the catalog settings.
func GetCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Type: viper.GetString("catalog.type"),
		SQLite: SQLiteConfig{
			Path: viper.GetString("catalog.sqlite.path"),
		},
	}
}

// GetAPIConfig returns the admin API settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		Enabled: viper.GetBool("api.enabled"),
		Listen:  viper.GetString("api.listen"),
	}
}

// GetMonitorConfig returns the performance monitor settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval: viper.GetDuration("monitor.interval"),
	}
}

// GetGeoOrigin returns the geodetic position of the root frame.
func GetGeoOrigin() Anchor {
	return Anchor{
		Longitude: viper.GetFloat64("geo.origin.longitude"),
		Latitude:  viper.GetFloat64("geo.origin.latitude"),
		Altitude:  viper.GetFloat64("geo.origin.altitude"),
	}
}

// GetFrames returns the configured seed frames.
func GetFrames() ([]FrameConfig, error) {
	var frames []FrameConfig
	if err := viper.UnmarshalKey("frames", &frames); err != nil {
		return nil, fmt.Errorf("decoding frames: %w", err)
	}
	return frames, nil
}

// GetMarkers returns the markers created at startup.
func GetMarkers() ([]MarkerConfig, error) {
	var markers []MarkerConfig
	if err := viper.UnmarshalKey("markers", &markers); err != nil {
		return nil, fmt.Errorf("decoding markers: %w", err)
	}
	return markers, nil
}
