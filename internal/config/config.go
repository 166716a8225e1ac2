package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
)

const appName = "climateapi"

// Config is the command line and environment configuration. Flags take
// precedence over environment variables, which take precedence over values
// loaded from the optional .env file.
type Config struct {
	EnvFile kongdotenv.ENVFileConfig `help:"Optional .env file supplying values for unset variables." default:".env" env:"CLIMATEAPI_ENV_FILE"`

	DB              string        `help:"Path to the SQLite climate database." default:"Resources/hawaii.sqlite" env:"CLIMATEAPI_DB"`
	DBMaxOpenConns  int           `help:"Maximum open database connections." default:"4" env:"CLIMATEAPI_DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns  int           `help:"Maximum idle database connections." default:"2" env:"CLIMATEAPI_DB_MAX_IDLE_CONNS"`
	DBConnLifetime  time.Duration `help:"Maximum lifetime of a pooled connection." default:"30m" env:"CLIMATEAPI_DB_CONN_LIFETIME"`
	DBOpenRetries   uint64        `help:"Attempts to reach the database at startup before giving up." default:"3" env:"CLIMATEAPI_DB_OPEN_RETRIES"`
	Addr            string        `help:"HTTP listen address." default:":5000" env:"CLIMATEAPI_ADDR"`
	ReadTimeout     time.Duration `help:"HTTP read timeout." default:"10s" env:"CLIMATEAPI_READ_TIMEOUT"`
	WriteTimeout    time.Duration `help:"HTTP write timeout." default:"30s" env:"CLIMATEAPI_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `help:"Grace period for in-flight requests on shutdown." default:"5s" env:"CLIMATEAPI_SHUTDOWN_TIMEOUT"`
	LogLevel        string        `help:"Log level (debug, info, warn, error)." default:"info" env:"LOG_LEVEL" enum:"debug,info,warn,error"`
	LogFormat       string        `help:"Log encoding (json, console)." default:"json" env:"LOG_FORMAT" enum:"json,console"`
}

// Parse resolves a Config from args and the environment. Variables from the
// .env file named by --env-file fill any flag not set on the command line or in
// the process environment.
func Parse(args []string, options ...kong.Option) (Config, error) {
	var cfg Config
	parser, err := kong.New(&cfg, append([]kong.Option{
		kong.Name(appName),
		kong.Description("Read-only HTTP API over a climate observation database."),
		kong.UsageOnError(),
	}, options...)...)
	if err != nil {
		return Config{}, err
	}
	if _, err := parser.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.DB == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.DBMaxOpenConns < 1 {
		errs = append(errs, fmt.Errorf("db-max-open-conns must be at least 1, got %d", c.DBMaxOpenConns))
	}
	if c.DBMaxIdleConns < 0 {
		errs = append(errs, fmt.Errorf("db-max-idle-conns must not be negative, got %d", c.DBMaxIdleConns))
	}
	for name, d := range map[string]time.Duration{
		"read-timeout":     c.ReadTimeout,
		"write-timeout":    c.WriteTimeout,
		"shutdown-timeout": c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	return errors.Join(errs...)
}
