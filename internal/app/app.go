// Package app assembles the engine and its collaborators from a
// configuration and runs them until shutdown.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"ocr-watch/internal/action"
	"ocr-watch/internal/config"
	"ocr-watch/internal/events"
	"ocr-watch/internal/input"
	"ocr-watch/internal/logging"
	"ocr-watch/internal/monitor"
	"ocr-watch/internal/notify"
	"ocr-watch/internal/ocr/tesseract"
	"ocr-watch/internal/process"
	"ocr-watch/internal/rule"
	"ocr-watch/internal/scheduler"
	"ocr-watch/internal/screenshot"
	"ocr-watch/internal/server"
	"ocr-watch/internal/store"
	"ocr-watch/internal/websocket"
	"ocr-watch/internal/window"
)

// Options replace the desktop backed collaborators. Nil fields get the
// real implementations.
type Options struct {
	Recognizer monitor.Recognizer
	Effectors  *action.Effectors
	Saver      monitor.CaptureSaver
	Windows    monitor.WindowResolver
}

type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	bus     *events.Bus
	store   store.Store
	engine  *monitor.Engine
	hub     *websocket.Hub
	server  *server.Server
	windows *window.Locator
}

// New wires every component. The store is opened here and closed by Close.
func New(cfg *config.Config, opts Options) (*App, error) {
	log := logging.GetLogger("app")
	bus := events.NewBus()

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, bus: bus, store: st}

	var capturer *screenshot.Capturer
	needCapturer := opts.Recognizer == nil || opts.Saver == nil || opts.Effectors == nil
	if needCapturer {
		annotator, err := screenshot.NewAnnotatorFromConfig(cfg.Annotate)
		if err != nil {
			st.Close()
			return nil, err
		}
		capturer = screenshot.New(annotator, logging.GetLogger("screenshot"))
	}

	recognizer := opts.Recognizer
	if recognizer == nil {
		recognizer = tesseract.New(cfg.Recognizer, capturer, logging.GetLogger("tesseract"))
	}
	var saver monitor.CaptureSaver = capturer
	if opts.Saver != nil {
		saver = opts.Saver
	}
	var windows monitor.WindowResolver
	if opts.Windows != nil {
		windows = opts.Windows
	} else {
		window.SuppressXGBLogs()
		a.windows = window.NewLocator(logging.GetLogger("window"))
		windows = a.windows
	}

	var fx action.Effectors
	if opts.Effectors != nil {
		fx = *opts.Effectors
	} else {
		device := input.New(logging.GetLogger("input"))
		fx = action.Effectors{
			Keyboard:   device,
			Mouse:      device,
			Process:    process.NewRunner(logging.GetLogger("process")),
			Notifier:   notify.New(bus, logging.GetLogger("notify")),
			Screenshot: capturer,
		}
	}

	rules := rule.NewEngine()
	executor := action.NewExecutor(cfg.Executor, fx, bus, logging.GetLogger("executor"))
	sched := scheduler.New(cfg.Scheduler, executor, rules, bus, logging.GetLogger("scheduler"))

	a.engine, err = monitor.New(cfg.Engine, monitor.Deps{
		Recognizer: recognizer,
		Rules:      rules,
		Actions:    executor,
		Scheduler:  sched,
		Store:      st,
		Saver:      saver,
		Windows:    windows,
		Bus:        bus,
		Log:        logging.GetLogger("monitor"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.hub = websocket.NewHub(logging.GetLogger("websocket"))
	a.server = server.New(a.engine, a.hub, logging.GetLogger("server"))
	return a, nil
}

func (a *App) Engine() *monitor.Engine { return a.engine }

func (a *App) Bus() *events.Bus { return a.bus }

// Run loads the saved state, starts the engine when auto_start is set and
// serves the control API until ctx is done. On the way out the engine is
// stopped and the state saved.
func (a *App) Run(ctx context.Context) error {
	if err := a.engine.Load(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Some saved items could not be loaded")
	}

	sub, unsub := a.bus.Subscribe(256)
	defer unsub()
	hubCtx, cancelHub := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.hub.Run(hubCtx, sub)
	}()

	if a.cfg.Engine.AutoStart {
		a.engine.Start(ctx)
	}

	var runErr error
	if a.cfg.Server.Enabled {
		runErr = a.server.ListenAndServe(ctx, a.cfg.Server.Addr())
	} else {
		<-ctx.Done()
	}

	// Stop saves on its own when auto_save is set
	if !a.engine.Stop() || !a.cfg.Engine.AutoSave {
		if err := a.engine.Save(context.Background()); err != nil {
			a.log.Error().Err(err).Msg("Failed to save state")
		}
	}

	cancelHub()
	wg.Wait()
	a.log.Info().Msg("Shutdown complete")
	return runErr
}

// Close releases the store and the X connection
func (a *App) Close() error {
	if a.windows != nil {
		a.windows.Close()
	}
	return a.store.Close()
}
