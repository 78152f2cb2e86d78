/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave portal server. Handles configuration,
  dependency injection, the reminder scheduler and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load config.yml (+ environment)
  2. Build the zap logger
  3. Load the jurisdiction profile (statutory minimums, planner rules)
  4. Open the SQLite store and the org directory
  5. Wire notifier, audit sinks, ledger, workflow and policy services
  6. Pick the reminder de-dup backend (Redis if configured, else SQLite)
  7. Configure the HTTP router and serve

COMMAND-LINE FLAGS:
  -config  Config file, may be repeated through commas (default: config.yml)
  -port    Overrides http.port
  -db      Overrides database.path. Use ":memory:" for a throwaway database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler after its in-flight scan
  4. Close the database and Redis connections

ENVIRONMENT:
  Every config key has a LEAVE_* (or SMTP_*) override, see config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-portal/api"
	"github.com/warp/leave-portal/audit"
	"github.com/warp/leave-portal/config"
	"github.com/warp/leave-portal/directory"
	"github.com/warp/leave-portal/ledger"
	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/notify"
	"github.com/warp/leave-portal/planner"
	"github.com/warp/leave-portal/policy"
	"github.com/warp/leave-portal/scheduler"
	"github.com/warp/leave-portal/scheduler/redisdedup"
	"github.com/warp/leave-portal/store/sqlite"
	"github.com/warp/leave-portal/workflow"
)

func main() {
	// Flags
	configFiles := flag.String("config", "config.yml", "comma-separated config files")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	conf, err := config.Load(existing(strings.Split(*configFiles, ","))...)
	if err != nil {
		panic(err)
	}
	if *port > 0 {
		conf.HTTP.Port = *port
	}
	if *dbPath != "" {
		conf.Database.Path = *dbPath
	}

	logger, err := newLogger(conf)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(conf, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(conf *config.Configuration, logger *zap.Logger) error {
	// Jurisdiction profile
	profile, err := config.LoadProfile(conf.Profile.Path)
	if err != nil {
		return err
	}
	table, err := profile.StatutoryTable()
	if err != nil {
		return err
	}
	rules, err := profile.PlannerRules()
	if err != nil {
		return err
	}
	if profile != nil {
		logger.Info("jurisdiction profile loaded", zap.String("name", profile.Name), zap.String("code", profile.Code))
	}

	// Initialize store
	store, err := sqlite.New(conf.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	static, err := directory.LoadFile(conf.Directory.Path)
	if err != nil {
		return err
	}
	var dir leave.OrgDirectory = static
	if ttl := conf.DirectoryTTL(); ttl > 0 {
		dir = directory.NewCached(static, ttl)
	}

	// Side effects
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if conf.Smtp.Host != "" {
		notifiers = append(notifiers, notify.NewSMTPNotifier(conf.SMTPConfig(), dir, logger))
	}
	sinks := audit.Multi{store, audit.NewLogSink(logger)}

	exempt, err := conf.Exempt()
	if err != nil {
		return err
	}
	lg := ledger.New(store, ledger.WithExempt(exempt...), ledger.WithLogger(logger))

	wf := workflow.NewService(workflow.Deps{
		Store:     store,
		Directory: dir,
		Planner:   planner.New(rules),
		Ledger:    lg,
		Notifier:  notifiers,
		Audit:     sinks,
		Logger:    logger,
	}, conf.WorkflowConfig())
	policies := policy.NewService(store, policy.NewGate(table), sinks, logger)

	// Reminder de-dup lives in Redis when several portal instances share
	// the scheduler duty.
	var dedup leave.ReminderStore = store
	if conf.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		dedup = redisdedup.New(rdb, conf.Redis.Prefix)
		logger.Info("reminder de-dup backed by redis", zap.String("addr", conf.Redis.Addr))
	}
	sched := scheduler.New(store, dedup, notifiers, sinks, conf.SchedulerConfig(), logger)

	handler := api.NewHandler(api.Deps{
		Workflow:  wf,
		Policies:  policies,
		Scheduler: sched,
		Audit:     store,
		Directory: dir,
		Logger:    logger,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: conf.Origins(),
		RateLimit:      conf.HTTP.RateLimit,
		RateBurst:      conf.HTTP.RateBurst,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         conf.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sched.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(conf *config.Configuration) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(conf.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if conf.Log.Development != nil && *conf.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

// existing drops config files that are not on disk so a bare checkout runs
// on defaults and environment alone.
func existing(files []string) []string {
	var out []string
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err == nil {
			out = append(out, f)
		}
	}
	return out
}
