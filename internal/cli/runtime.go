package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/procflow/internal/compiler"
	"github.com/roach88/procflow/internal/config"
	"github.com/roach88/procflow/internal/engine"
	"github.com/roach88/procflow/internal/graph"
	"github.com/roach88/procflow/internal/lock"
	"github.com/roach88/procflow/internal/logging"
	"github.com/roach88/procflow/internal/store"
)

// runtime holds what one command invocation works with: the resolved
// configuration, the audit store and, for engine commands, the engine.
type runtime struct {
	cfg    config.Config
	logger *slog.Logger

	base  *store.Store // owns the database handle
	store *store.Store // base, or base joined to tx
	tx    *store.Tx    // set when store.shared_unit_of_work is on

	redis  *redis.Client
	engine *engine.Engine
}

// resolveConfig loads --config (or the defaults) and applies flag
// overrides.
func resolveConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level, err := cfg.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	return logging.New(w, level)
}

// openStore resolves the configuration and opens the audit store. With a
// shared unit of work the whole command runs in one transaction that
// close commits.
func openStore(ctx context.Context, opts *RootOptions, stderr io.Writer) (*runtime, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, stderr)

	logger.Debug("opening database", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path,
		store.WithLogger(logger),
		store.WithSharedUnitOfWork(cfg.Store.SharedUnitOfWork),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	rt := &runtime{cfg: cfg, logger: logger, base: st, store: st}
	if cfg.Store.SharedUnitOfWork {
		tx, err := st.Begin(ctx)
		if err != nil {
			_ = st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to begin unit of work", err)
		}
		rt.tx = tx
		rt.store = st.Join(tx)
	}
	return rt, nil
}

// openEngine is openStore plus the graphs of --defs and an engine running
// them. Every action named by a graph is bound to an action that only
// logs; real actions belong to programs embedding the engine.
func openEngine(ctx context.Context, opts *RootOptions, stderr io.Writer) (*runtime, error) {
	if opts.Definitions == "" {
		return nil, NewExitError(ExitCommandError, "--defs is required")
	}
	result, errs := compiler.Load(opts.Definitions, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, WrapExitError(ExitCommandError, "failed to load definitions", errs[0])
	}

	rt, err := openStore(ctx, opts, stderr)
	if err != nil {
		return nil, err
	}
	rt.logger.Debug("definitions loaded", "path", opts.Definitions, "processes", len(result.Graphs))

	mode, err := rt.cfg.CorrelationMode()
	if err != nil {
		return nil, rt.close(ctx, WrapExitError(ExitCommandError, "invalid correlation mode", err))
	}
	engineOpts := []engine.Option{
		engine.WithGraphs(result.Graphs...),
		engine.WithLogger(rt.logger),
		engine.WithCorrelationMode(mode),
		engine.WithMaxSteps(rt.cfg.Engine.MaxSteps),
	}
	for _, name := range actionNames(result.Graphs) {
		engineOpts = append(engineOpts, engine.WithAction(name, logAction(rt.logger, name)))
	}
	if rt.cfg.Lock.Backend == config.BackendRedis {
		rt.redis = redis.NewClient(&redis.Options{Addr: rt.cfg.Lock.RedisAddr})
		engineOpts = append(engineOpts,
			engine.WithLocker(lock.NewRedisLocker(rt.redis, rt.cfg.Lock.Prefix), rt.cfg.Lock.TTL))
	}

	eng, err := engine.New(ctx, rt.store, engineOpts...)
	if err != nil {
		return nil, rt.close(ctx, WrapExitError(ExitCommandError, "failed to create engine", err))
	}
	rt.engine = eng
	return rt, nil
}

// close ends the command's unit of work and releases the database and
// Redis connections. A handler failure still commits: the instance was
// aborted and that must be recorded.
func (r *runtime) close(ctx context.Context, err error) error {
	if r.tx != nil {
		if err == nil || engine.IsHandlerError(err) {
			if cerr := r.tx.Commit(ctx); cerr != nil {
				err = errors.Join(err, WrapExitError(ExitCommandError, "failed to commit", cerr))
			}
		} else if rbErr := r.tx.Rollback(ctx); rbErr != nil {
			r.logger.Warn("rollback failed", "error", rbErr)
		}
	}
	if r.redis != nil {
		if cerr := r.redis.Close(); cerr != nil {
			r.logger.Warn("error closing redis client", "error", cerr)
		}
	}
	if cerr := r.base.Close(); cerr != nil {
		r.logger.Error("error closing database", "error", cerr)
	}
	return err
}

// actionNames lists the distinct action names of graphs, sorted.
func actionNames(graphs []*graph.Graph) []string {
	var names []string
	for _, g := range graphs {
		for _, n := range g.Nodes() {
			if n.Type == graph.NodeAction && n.Action != "" {
				names = append(names, n.Action)
			}
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}

func logAction(logger *slog.Logger, name string) engine.ActionFunc {
	return func(ctx context.Context, ac *engine.ActionContext) error {
		logger.Info("action fired",
			"action", name,
			"process_instance_id", ac.InstanceID(),
			"node", ac.Node.Name,
		)
		return nil
	}
}
