// Command simcore boots the tick-driven simulation core: it loads config,
// connects to PostgreSQL and runs migrations, loads the content registry,
// assembles the entity/component store, spatial model, plugin runtime,
// and scripting engine, and runs the tick loop until an interrupt signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l1jgo/simcore/internal/authflow"
	"github.com/l1jgo/simcore/internal/command"
	"github.com/l1jgo/simcore/internal/component"
	"github.com/l1jgo/simcore/internal/config"
	"github.com/l1jgo/simcore/internal/entity"
	"github.com/l1jgo/simcore/internal/netio"
	"github.com/l1jgo/simcore/internal/persist"
	"github.com/l1jgo/simcore/internal/plugin"
	"github.com/l1jgo/simcore/internal/registry"
	"github.com/l1jgo/simcore/internal/scripting"
	"github.com/l1jgo/simcore/internal/session"
	"github.com/l1jgo/simcore/internal/snapshot"
	"github.com/l1jgo/simcore/internal/spatial"
	"github.com/l1jgo/simcore/internal/tick"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────
// Adapted from the teacher's own cmd/l1jgo banner/section helpers, with
// the L1J-specific CJK copy replaced and the width math (which accounted
// for double-width CJK glyphs) dropped along with it.

func printBanner() {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              simcore  v0.1.0               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m     tick-driven world simulation core       \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main wiring ─────────────────────────────────────────────────────

func run() error {
	cfgPath := config.Path("config/simcore.toml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner()

	printSection("database")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("postgres connection established")

	if err := persist.RunMigrations(ctx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("migrations applied")
	fmt.Println()

	accounts := persist.NewAccountRepo(db)
	characters := persist.NewCharacterRepo(db)
	snapshots := persist.NewSnapshotRepo(db)

	printSection("world")
	world := component.NewWorld()
	space, spawnRoom, err := buildSpatialModel(cfg.World)
	if err != nil {
		return fmt.Errorf("spatial model: %w", err)
	}
	printStat("spatial variant", int(space.Variant()))

	statsHandler := component.NewJSONHandler[component.Stats]("stats")
	world.Registry().Register(statsHandler)
	world.Registry().RegisterHandler(statsHandler)
	accountHandler := component.NewJSONHandler[component.Account]("account")
	world.Registry().Register(accountHandler)
	world.Registry().RegisterHandler(accountHandler)
	sessionRefHandler := component.NewJSONHandler[component.SessionRef]("session_ref")
	world.Registry().Register(sessionRefHandler)
	world.Registry().RegisterHandler(sessionRefHandler)
	printStat("registered component types", len(world.Registry().Tags()))

	reg, err := registry.Load(cfg.World.RegistryDir)
	if err != nil {
		log.Warn("content registry not loaded", zap.Error(err))
		reg = &registry.Registry{}
	} else {
		printStat("content collections", len(reg.Collections()))
	}
	_ = reg // reserved for plugin/script host calls that resolve registry content by id

	printSection("persistence")
	if latest, ok, err := snapshots.LoadLatest(ctx); err != nil {
		log.Warn("snapshot restore skipped", zap.Error(err))
	} else if ok {
		if err := snapshot.Restore(latest, world, space); err != nil {
			log.Warn("snapshot restore failed, starting fresh", zap.Error(err))
		} else {
			printOK(fmt.Sprintf("restored snapshot at tick %d", latest.Tick))
		}
	} else {
		printOK("no prior snapshot, starting fresh world")
	}
	fmt.Println()

	printSection("plugins")
	pluginRuntime := plugin.NewRuntime(plugin.Config{
		DefaultFuelBudget:      cfg.Plugin.FuelPerTick,
		MaxConsecutiveFailures: cfg.Plugin.MaxConsecutiveFailures,
	}, log)
	pluginRuntime.SetLogger(zapPluginLogger{log: log})
	pluginRuntime.SetComponentReader(componentReader{registry: world.Registry()})
	loaded, err := loadPlugins(pluginRuntime, cfg.Plugin.Dir)
	if err != nil {
		log.Warn("plugin load error", zap.Error(err))
	}
	printStat("plugins loaded", loaded)
	fmt.Println()

	printSection("scripting")
	scriptEngine := scripting.NewEngine(scripting.Config{
		InstructionBudget: cfg.Script.InstructionBudget,
		MemoryCeilingMB:   cfg.Script.MemoryCeilingMB,
	}, log)
	defer scriptEngine.Close()
	if cfg.Script.TemplateDir != "" {
		tmpl, err := scriptEngine.LoadTemplate(cfg.Script.TemplateDir)
		if err != nil {
			log.Warn("script template load error", zap.Error(err))
		} else {
			printOK(fmt.Sprintf("template %s %s loaded", tmpl.Name, tmpl.Version))
		}
	} else if err := scriptEngine.LoadDir(cfg.Script.Dir); err != nil {
		log.Warn("script load error", zap.Error(err))
	}
	printOK("scripting engine ready")
	fmt.Println()

	sessions := session.NewManager(session.Config{
		LingerDuration: cfg.Session.LingerDuration,
		QuickPlay:      cfg.Session.QuickPlay,
	})

	auth := authflow.New(authflow.Deps{
		Accounts:   accounts,
		Characters: characters,
		World:      world,
		Space:      space,
		SpawnRoom:  spawnRoom,
		Log:        log,
	})

	printSection("network")
	transport, err := netio.Listen(netio.Config{
		BindAddr:       cfg.Network.BindAddress,
		InboxSize:      cfg.Network.InboxSize,
		OutboxSize:     cfg.Network.OutboxSize,
		MaxConnsTotal:  cfg.Network.MaxConnsTotal,
		MaxConnsPerIP:  cfg.Network.MaxConnsPerIP,
		CommandsPerSec: cfg.Network.CommandsPerSec,
		CommandBurst:   cfg.Network.CommandBurst,
		WriteTimeout:   cfg.Network.WriteTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("network: %w", err)
	}
	printReady(fmt.Sprintf("listening on %s", transport.Addr().String()))

	stream := command.NewStream()
	loop := tick.New(tick.Config{
		TicksPerSecond:   cfg.Tick.TicksPerSecond,
		SnapshotInterval: cfg.Tick.SnapshotInterval,
		SnapshotDir:      cfg.Tick.SnapshotDir,
		AOIRadius:        cfg.AOI.Radius,
	}, log, tick.Deps{
		World:      world,
		Space:      space,
		Stream:     stream,
		Plugins:    pluginRuntime,
		Scripts:    scriptEngine,
		Sessions:   sessions,
		Inbox:      transport,
		Outbox:     transport,
		Checkpoint: snapshots,
		AuthLogin:  auth.AsTickHandler(),
	})

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	netErrCh := make(chan error, 1)
	go func() { netErrCh <- transport.Serve(runCtx) }()

	printReady(fmt.Sprintf("tick loop starting at %.0f ticks/sec", cfg.Tick.TicksPerSecond))
	fmt.Println()

	loop.Run(runCtx)

	if err := <-netErrCh; err != nil {
		log.Warn("network transport stopped", zap.Error(err))
	}
	log.Info("simcore stopped")
	return nil
}

// buildSpatialModel constructs the configured spatial.Model variant and
// returns a default spawn room for brand-new characters. Only RoomGraph
// has one; for Grid the returned spawn ID is 0 and new characters are not
// placed on the grid at all.
func buildSpatialModel(cfg config.WorldConfig) (spatial.Model, entity.ID, error) {
	switch cfg.Variant {
	case "grid":
		g := spatial.NewGrid(cfg.GridWidth, cfg.GridHeight, cfg.GridOriginX, cfg.GridOriginY)
		return g, 0, nil
	case "room_graph", "":
		g := spatial.NewRoomGraph()
		spawnRoom := entity.New(1, 0)
		g.AddRoom(spawnRoom)
		return g, spawnRoom, nil
	default:
		return nil, 0, fmt.Errorf("unknown spatial variant %q", cfg.Variant)
	}
}

func loadPlugins(rt *plugin.Runtime, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".wasm" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for i, name := range names {
		wasm, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return i, err
		}
		id := strings.TrimSuffix(name, ".wasm")
		if err := rt.Load(plugin.Manifest{ID: id, Priority: i, Wasm: wasm}); err != nil {
			return i, fmt.Errorf("load plugin %s: %w", id, err)
		}
	}
	return len(names), nil
}

// componentReader adapts component.Registry to plugin.ComponentReader,
// resolving the get_component host ABI call straight from each component
// type's registered Handler.
type componentReader struct {
	registry *component.Registry
}

func (c componentReader) ReadComponent(e entity.ID, tag string) ([]byte, bool) {
	h, ok := c.registry.Handler(tag)
	if !ok {
		return nil, false
	}
	return h.Capture(e)
}

// zapPluginLogger adapts *zap.Logger to plugin.Logger for forwarded
// plugin log(level, msg) calls.
type zapPluginLogger struct {
	log *zap.Logger
}

func (z zapPluginLogger) PluginLog(pluginID string, level int32, msg string) {
	z.log.Info("plugin log", zap.String("plugin_id", pluginID), zap.Int32("level", level), zap.String("msg", msg))
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
