package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string         `yaml:"env" env-default:"prod"`
	OpenSky  OpenSkyConfig  `yaml:"opensky"`
	Polling  PollingConfig  `yaml:"polling"`
	Zabbix   ZabbixConfig   `yaml:"zabbix"`
	Store    StoreConfig    `yaml:"store"`
	Triggers TriggersConfig `yaml:"triggers"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
}

type OpenSkyConfig struct {
	BaseURL  string        `yaml:"base_url" env-default:"https://opensky-network.org/api/states/all"`
	TokenURL string        `yaml:"token_url" env-default:"https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"`
	Timeout  time.Duration `yaml:"timeout" env-default:"15s"`

	// OAuth2 client credentials. When empty the API is polled anonymously,
	// or with basic auth if username/password are set.
	ClientID     string `yaml:"client_id" env:"OPENSKY_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"OPENSKY_CLIENT_SECRET"`
	Username     string `yaml:"username" env:"OPENSKY_USERNAME"`
	Password     string `yaml:"password" env:"OPENSKY_PASSWORD"`

	AuthTimeout time.Duration `yaml:"auth_timeout" env-default:"10s"`

	BoundingBox BoundingBox `yaml:"bounding_box"`
}

// BoundingBox restricts the state-vector query to a geographic area. The
// defaults cover the Mexico City metropolitan area.
type BoundingBox struct {
	LatMin float64 `yaml:"lat_min" env-default:"19.0"`
	LatMax float64 `yaml:"lat_max" env-default:"20.0"`
	LonMin float64 `yaml:"lon_min" env-default:"-99.3"`
	LonMax float64 `yaml:"lon_max" env-default:"-98.9"`
}

type PollingConfig struct {
	Interval time.Duration `yaml:"interval" env-default:"60s"`
}

type ZabbixConfig struct {
	// Sender mode: "trapper" speaks the sender protocol directly,
	// "command" shells out to the zabbix_sender binary, "log" only logs
	// the batch.
	Mode       string        `yaml:"mode" env-default:"trapper"`
	Server     string        `yaml:"server" env-required:"true"`
	Port       int           `yaml:"port" env-default:"10051"`
	Hostname   string        `yaml:"hostname" env-default:"Skyrus Server"`
	SenderPath string        `yaml:"sender_path" env-default:"zabbix_sender"`
	Timeout    time.Duration `yaml:"timeout" env-default:"7s"`

	API ZabbixAPIConfig `yaml:"api"`
}

type ZabbixAPIConfig struct {
	URL      string        `yaml:"url" env-default:"http://localhost/zabbix/api_jsonrpc.php"`
	User     string        `yaml:"user" env:"ZABBIX_USER"`
	Password string        `yaml:"password" env:"ZABBIX_PASSWORD"`
	Timeout  time.Duration `yaml:"timeout" env-default:"10s"`
}

type StoreConfig struct {
	Path string `yaml:"path" env-default:"/var/lib/skyrus/flights.db"`
}

type TriggersConfig struct {
	Path string `yaml:"path" env-default:"/var/lib/skyrus/triggers.json"`
}

type APIConfig struct {
	Address string `yaml:"address" env-default:":8080"`
}

type LogConfig struct {
	Level  string `yaml:"level" env-default:"info"`
	Format string `yaml:"format" env-default:"json"`
}

func MustLoad(configPath string) *Config {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	if configPath == "" {
		configPath = "config/config.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file not found: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	return &cfg
}
