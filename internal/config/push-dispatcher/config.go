package push_dispatcher_config

import (
	"time"

	"github.com/NordCoder/Campusbell/internal/obs"
	kafkax "github.com/NordCoder/Campusbell/internal/repository/kafka"
	pg "github.com/NordCoder/Campusbell/internal/repository/postgres"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type KafkaIn struct {
	kafkax.ConsumerConfig `mapstructure:",squash"`
	Partitions            int `mapstructure:"partitions"`
}

type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

type WebPush struct {
	VAPIDPublicKey  string        `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string        `mapstructure:"vapid_private_key"`
	Subscriber      string        `mapstructure:"subscriber"`
	TTL             int           `mapstructure:"ttl"`
	Urgency         string        `mapstructure:"urgency"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type SMTP struct {
	Enable     bool   `mapstructure:"enable"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	From       string `mapstructure:"from"`
	SubjPrefix string `mapstructure:"subj_prefix"`
	BaseURL    string `mapstructure:"base_url"`
}

type Directory struct {
	Query string `mapstructure:"query"`
}

type Config struct {
	App       App            `mapstructure:"app"`
	Server    Server         `mapstructure:"server"`
	DB        pg.Config      `mapstructure:"db"`
	In        KafkaIn        `mapstructure:"kafka_in"`
	Redis     Redis          `mapstructure:"redis"`
	WebPush   WebPush        `mapstructure:"webpush"`
	SMTP      SMTP           `mapstructure:"smtp"`
	Directory Directory      `mapstructure:"directory"`
	OTEL      obs.OTELConfig `mapstructure:"otel"`
	Log       obs.LogConfig  `mapstructure:"log"`
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
