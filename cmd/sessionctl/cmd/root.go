package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/logging"
	"github.com/MrEthical07/goSession/store"
)

// cliEnv is read from SESSIONCTL_* variables; flags override it.
type cliEnv struct {
	Store       string         `env:"STORE" envDefault:"bolt"`
	BoltPath    string         `env:"BOLT_PATH"`
	RedisAddr   string         `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPrefix string         `env:"REDIS_PREFIX" envDefault:"sessionctl:"`
	Log         logging.Config `envPrefix:"LOG_"`
}

type flags struct {
	envFile   string
	store     string
	boltPath  string
	redisAddr string
	baseURL   string
	logLevel  string
}

// app holds what one invocation opens; close releases it.
type app struct {
	opts    flags
	client  *goSession.Client
	closers []func() error
}

// Execute runs sessionctl with the process arguments and exits non-zero on
// failure.
func Execute() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	defer func() { _ = a.close() }()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sessionctl",
		Short: "sessionctl manages an API session from the command line",
		Long: `Log in to the API, keep the session between invocations, and issue
authenticated requests that renew the credential transparently.

Configuration is read from GOSESSION_* and SESSIONCTL_* environment variables,
optionally loaded from a .env file.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.envFile, "env-file", ".env", "dotenv file to load if present")
	pf.StringVar(&a.opts.store, "store", "", "session store: bolt, redis or memory")
	pf.StringVar(&a.opts.boltPath, "bolt-path", "", "bbolt database path (default under the user config dir)")
	pf.StringVar(&a.opts.redisAddr, "redis-addr", "", "redis address for --store=redis")
	pf.StringVar(&a.opts.baseURL, "base-url", "", "API base URL, overrides GOSESSION_API_BASE_URL")
	pf.StringVar(&a.opts.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newRegisterCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newRefreshCmd(a),
		newGetCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.opts.envFile != "" {
		if err := godotenv.Load(a.opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.opts.envFile, err)
		}
	}

	var ce cliEnv
	if err := env.ParseWithOptions(&ce, env.Options{Prefix: "SESSIONCTL_"}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	overrideString(&ce.Store, a.opts.store)
	overrideString(&ce.BoltPath, a.opts.boltPath)
	overrideString(&ce.RedisAddr, a.opts.redisAddr)
	overrideString(&ce.Log.Level, a.opts.logLevel)
	if ce.Log.Format == "" {
		ce.Log.Format = string(logging.FormatText)
	}

	logOpts, err := logging.FromConfig(ce.Log)
	if err != nil {
		return err
	}
	logger := logging.New(append(logOpts,
		logging.WithOutput(cmd.ErrOrStderr()),
		logging.WithAttr(slog.String("cmd", "sessionctl")),
	)...)

	cfg, err := goSession.ConfigFromEnv()
	if err != nil {
		return err
	}
	overrideString(&cfg.API.BaseURL, a.opts.baseURL)

	kv, err := a.openStore(cmd.Context(), ce)
	if err != nil {
		return err
	}

	a.client, err = goSession.New().
		WithConfig(cfg).
		WithStore(kv).
		WithLogger(logger).
		Build(cmd.Context())
	return err
}

func (a *app) close() error {
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) openStore(ctx context.Context, ce cliEnv) (store.Store, error) {
	switch ce.Store {
	case "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{ce.RedisAddr}})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("redis %s: %w", ce.RedisAddr, err)
		}
		a.closers = append(a.closers, rc.Close)
		return store.NewRedisStore(rc, ce.RedisPrefix), nil
	case "bolt", "":
		path := ce.BoltPath
		if path == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return nil, fmt.Errorf("locate config dir: %w", err)
			}
			path = filepath.Join(dir, "sessionctl", "session.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
		bs, err := store.NewBoltStoreFromFile(path, nil)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bs.Close)
		return bs, nil
	default:
		return nil, fmt.Errorf("unknown store %q: want bolt, redis or memory", ce.Store)
	}
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
