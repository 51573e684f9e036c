package config

import (
	"os"
	"path"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Public  Public
	Private Private
}

type Public struct {
	Username string   `yaml:"username" validate:"required,max=30"`
	Backend  string   `yaml:"backend" validate:"oneof=postgres rest"`
	Feed     string   `yaml:"feed" validate:"oneof=postgres websocket"`
	Objects  string   `yaml:"objects" validate:"oneof=fs s3 rest"`
	Pg       Pg       `yaml:"pg"`
	Rest     Rest     `yaml:"rest"`
	Realtime Realtime `yaml:"realtime"`
	Fs       Fs       `yaml:"fs"`
	S3       S3       `yaml:"s3"`
	Redis    Redis    `yaml:"redis"`
	Status   Status   `yaml:"status"`
	Log      Log      `yaml:"log"`
	Timings  Timings  `yaml:"timings"`
}

type Pg struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	User   string `yaml:"user"`
	Dbname string `yaml:"dbname"`
}

type Rest struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Bucket  string `yaml:"bucket"`
}

type Realtime struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

type Fs struct {
	Root      string `yaml:"root"`
	PublicURL string `yaml:"public_url"`
}

type S3 struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	PublicURL string `yaml:"public_url" validate:"omitempty,url"`
}

type Redis struct {
	Addr    string `yaml:"addr" validate:"required"`
	DB      int    `yaml:"db"`
	Channel string `yaml:"channel"`
}

type Status struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Timings are the interaction constants. Zero values fall back to the defaults below.
type Timings struct {
	TypingIdle    time.Duration `yaml:"typing_idle"`
	GroupWindow   time.Duration `yaml:"group_window"`
	SwipeSettle   time.Duration `yaml:"swipe_settle"`
	SwipePulse    time.Duration `yaml:"swipe_pulse"`
	PresenceTTL   time.Duration `yaml:"presence_ttl"`
	ReadThreshold float64       `yaml:"read_threshold" validate:"gte=0,lte=1"`
}

type Private struct {
	PgPassword    string `yaml:"pg_password"`
	RestAPIKey    string `yaml:"rest_api_key"`
	S3AccessKey   string `yaml:"s3_access_key"`
	S3SecretKey   string `yaml:"s3_secret_key"`
	RedisPassword string `yaml:"redis_password"`
}

var DefaultTimings = Timings{
	TypingIdle:    1400 * time.Millisecond,
	GroupWindow:   5 * time.Minute,
	SwipeSettle:   160 * time.Millisecond,
	SwipePulse:    240 * time.Millisecond,
	PresenceTTL:   30 * time.Second,
	ReadThreshold: 0.6,
}

func (t Timings) withDefaults() Timings {
	if t.TypingIdle == 0 {
		t.TypingIdle = DefaultTimings.TypingIdle
	}
	if t.GroupWindow == 0 {
		t.GroupWindow = DefaultTimings.GroupWindow
	}
	if t.SwipeSettle == 0 {
		t.SwipeSettle = DefaultTimings.SwipeSettle
	}
	if t.SwipePulse == 0 {
		t.SwipePulse = DefaultTimings.SwipePulse
	}
	if t.PresenceTTL == 0 {
		t.PresenceTTL = DefaultTimings.PresenceTTL
	}
	if t.ReadThreshold == 0 {
		t.ReadThreshold = DefaultTimings.ReadThreshold
	}
	return t
}

func mustLoadPath(configPath string, output interface{}) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		panic("can't read config file")
	}

	err = yaml.Unmarshal(configFile, output)
	if err != nil {
		panic("can't unmarshal config file")
	}
}

// secrets may come from the environment (or a .env file next to the binary) instead of
// private.yaml; a set variable always wins.
func applyEnv(p *Private) {
	_ = godotenv.Load()

	overrides := map[string]*string{
		"PAIRCHAT_PG_PASSWORD":    &p.PgPassword,
		"PAIRCHAT_REST_API_KEY":   &p.RestAPIKey,
		"PAIRCHAT_S3_ACCESS_KEY":  &p.S3AccessKey,
		"PAIRCHAT_S3_SECRET_KEY":  &p.S3SecretKey,
		"PAIRCHAT_REDIS_PASSWORD": &p.RedisPassword,
	}
	for key, field := range overrides {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
}

func MustLoad(configFolder string) *Config {
	var public Public
	mustLoadPath(path.Join(configFolder, "public.yaml"), &public)

	var private Private
	privatePath := path.Join(configFolder, "private.yaml")
	if _, err := os.Stat(privatePath); err == nil {
		mustLoadPath(privatePath, &private)
	}
	applyEnv(&private)

	public.Timings = public.Timings.withDefaults()
	if public.Redis.Channel == "" {
		public.Redis.Channel = "presence"
	}
	if public.Status.Addr == "" {
		public.Status.Addr = "127.0.0.1:8090"
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&public); err != nil {
		panic("invalid config: " + err.Error())
	}

	return &Config{public, private}
}
