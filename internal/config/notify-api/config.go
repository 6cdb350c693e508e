package notify_api_config

import (
	"time"

	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/NordCoder/Campusbell/internal/outbox"
	pg "github.com/NordCoder/Campusbell/internal/repository/postgres"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	SourceListen = "listen"
	SourceKafka  = "kafka"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
}

type DB struct {
	Driver   string    `mapstructure:"driver"`
	Postgres pg.Config `mapstructure:"postgres"`
	SQLite   string    `mapstructure:"sqlite_path"`
}

type Kafka struct {
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	GroupID    string   `mapstructure:"group_id"`
	Partitions int      `mapstructure:"partitions"`
}

// ChangeFeed selects where realtime records come from in postgres mode:
// the LISTEN channel fed by the trigger, or the kafka change topic.
type ChangeFeed struct {
	Source  string        `mapstructure:"source"`
	Channel string        `mapstructure:"channel"`
	Buffer  int           `mapstructure:"buffer"`
	Ping    time.Duration `mapstructure:"ping"`
}

type Inbox struct {
	PageSize    int           `mapstructure:"page_size"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
}

type Push struct {
	VAPIDPublicKey string `mapstructure:"vapid_public_key"`
}

type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type Config struct {
	App        App            `mapstructure:"app"`
	Server     Server         `mapstructure:"server"`
	DB         DB             `mapstructure:"db"`
	Kafka      Kafka          `mapstructure:"kafka"`
	Outbox     outbox.Config  `mapstructure:"outbox"`
	ChangeFeed ChangeFeed     `mapstructure:"changefeed"`
	Inbox      Inbox          `mapstructure:"inbox"`
	Push       Push           `mapstructure:"push"`
	Auth       Auth           `mapstructure:"auth"`
	OTEL       obs.OTELConfig `mapstructure:"otel"`
	Log        obs.LogConfig  `mapstructure:"log"`
}

func (c *Config) LoggerConfig() obs.LogConfig {
	lc := c.Log
	lc.App = c.App.Name
	lc.Env = c.App.Env
	lc.Ver = c.App.Version
	return lc
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
