package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/api"
	"github.com/vuorinet/spot-is-a-dog/internal/cache"
	"github.com/vuorinet/spot-is-a-dog/internal/clock"
	"github.com/vuorinet/spot-is-a-dog/internal/fetch"
	"github.com/vuorinet/spot-is-a-dog/internal/lifecycle"
	"github.com/vuorinet/spot-is-a-dog/internal/live"
	"github.com/vuorinet/spot-is-a-dog/internal/messaging"
	"github.com/vuorinet/spot-is-a-dog/internal/refresh"
	"github.com/vuorinet/spot-is-a-dog/internal/registry"
	"github.com/vuorinet/spot-is-a-dog/internal/render"
	"github.com/vuorinet/spot-is-a-dog/internal/schedule"
	"github.com/vuorinet/spot-is-a-dog/internal/store"
	"github.com/vuorinet/spot-is-a-dog/pkg/config"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// App wires the freshness scheduler: clock, store, registry, refresh
// coordinator, the three scheduling machines, the push channel and the status
// API. Every cross-component reference is explicit; nothing lives in package
// globals.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	clk clock.Clock
	ref *clock.Reference

	store     *store.Store
	reg       *registry.Registry
	mirror    *cache.Mirror
	publisher *messaging.Publisher
	fetcher   *fetch.Client
	coord     *refresh.Coordinator

	midnight *schedule.MidnightDetector
	window   *schedule.AfternoonPoller
	health   *schedule.HealthChecker

	channel   *live.Channel
	checker   *live.Checker
	notice    *live.Notice
	lifecycle *lifecycle.Coordinator
	apiServer *api.Server

	restartCh chan struct{}
}

// New creates the application instance.
func New(cfg *config.Config, logger *logrus.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		clk:       clock.System(),
		restartCh: make(chan struct{}, 1),
	}
}

// Initialize builds and connects every component.
func (a *App) Initialize() error {
	ref, err := clock.NewReference(a.clk, a.cfg.Agent.Timezone)
	if err != nil {
		return fmt.Errorf("failed to initialize reference clock: %w", err)
	}
	a.ref = ref

	a.store = store.New(a.clk, a.cfg.Agent.StaleAfter, a.logger)
	a.reg = registry.New(a.clk, a.logger)
	a.reg.OnTeardown(a.store.ClearAll)

	if err := a.initializeRenderers(); err != nil {
		return fmt.Errorf("failed to initialize renderers: %w", err)
	}
	if err := a.initializeMirror(); err != nil {
		return fmt.Errorf("failed to initialize mirror: %w", err)
	}
	if err := a.initializeMessaging(); err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}

	var mirror fetch.Mirror
	if a.mirror != nil {
		mirror = a.mirror
	}
	a.fetcher = fetch.New(a.cfg.Agent.SourceURL, a.cfg.Agent.MarginCents, a.store, a.reg, mirror, a.publisher, a.logger)
	a.coord = refresh.New(a.ctx, a.clk, a.ref, a.store, a.reg, a.fetcher, a.cfg.Agent.RefreshCooldown, a.logger)

	a.midnight = schedule.NewMidnightDetector(a.ref, a.store, a.coord, a.reg, a.cfg.Agent.MidnightStagger, a.logger)
	a.window = schedule.NewAfternoonPoller(a.ref, a.coord, a.reg, a.logger)
	a.health = schedule.NewHealthChecker(a.ref, a.store, a.coord, a.reg, a.publisher, a.logger)

	a.notice = live.NewNotice(a.cfg.Agent.UpdateNoticeDelay, a.requestRestart, a.reg, a.logger)
	a.checker = live.NewChecker(
		a.cfg.VersionURL(), a.cfg.Agent.Version, a.notice, nil, a.publisher,
		a.clk, a.reg, a.cfg.Agent.VersionPoll, a.cfg.Agent.VersionDebounce, a.logger,
	)
	dispatcher := live.NewDispatcher(a.ref, a.store, a.coord, a.window, a.checker, a.logger)
	a.channel = live.NewChannel(live.NewSSEDialer(a.cfg.StreamURL(), a.logger), dispatcher, a.reg, a.cfg.Agent.ReconnectWatchdog, a.logger)
	a.checker.BindChannel(a.channel)

	a.lifecycle = lifecycle.New(a.checker, a.channel, a.health.RunOnce, a.reg, a.logger)

	if a.cfg.Server.Enabled {
		a.apiServer = api.NewServer(a.cfg, a.cfg.Agent.Version, a.ref, a.store, a.reg, a.channel, a.window, a.coord, a.lifecycle, a.logger)
	}

	a.checkExpectedDates()
	a.warmStart()
	return nil
}

// checkExpectedDates cross-checks the deploy environment's date markers
// against the reference clock. A mismatch usually means the host clock or
// timezone is wrong; it is surfaced loudly but is not fatal.
func (a *App) checkExpectedDates() {
	expected := map[models.Role]string{
		models.RoleToday:    a.cfg.Agent.ExpectedToday,
		models.RoleTomorrow: a.cfg.Agent.ExpectedTomorrow,
	}
	for role, marker := range expected {
		if marker == "" {
			continue
		}
		if computed := a.ref.DateFor(role); marker != computed {
			a.logger.WithFields(logrus.Fields{
				"role":     role,
				"marker":   marker,
				"computed": computed,
			}).Warn("Expected-date marker disagrees with reference clock")
		}
	}
}

func (a *App) initializeRenderers() error {
	if a.cfg.Agent.DisplayDir == "" {
		a.logger.Info("Display dir not set, rendering disabled")
		return nil
	}
	for _, role := range models.Roles() {
		r, err := render.NewFileRenderer(role, a.cfg.Agent.DisplayDir, a.logger)
		if err != nil {
			return err
		}
		a.reg.TrackRenderer(registry.RoleOwner(role), r)
	}
	return nil
}

func (a *App) initializeMirror() error {
	if !a.cfg.Redis.Enabled {
		return nil
	}
	mirror, err := cache.NewMirror(&a.cfg.Redis, a.cfg.Agent.StaleAfter, a.logger)
	if err != nil {
		return err
	}
	a.mirror = mirror
	return nil
}

func (a *App) initializeMessaging() error {
	if !a.cfg.NATS.Enabled {
		return nil
	}
	pub, err := messaging.NewPublisher(&a.cfg.NATS, a.cfg.NATS.AgentName, a.logger)
	if err != nil {
		return err
	}
	a.publisher = pub
	return nil
}

// warmStart seeds the store from the mirror. Only snapshots whose date still
// matches the role's reference date are restored; FetchedAt is preserved so
// an old snapshot stays on its original staleness schedule.
func (a *App) warmStart() {
	if a.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()

	for _, role := range models.Roles() {
		snap, err := a.mirror.LoadSnapshot(ctx, role)
		if err != nil {
			a.logger.WithError(err).WithField("role", role).Warn("Failed to load mirrored snapshot")
			continue
		}
		if snap == nil {
			continue
		}
		expected := a.ref.DateFor(role)
		if snap.Date != expected {
			a.logger.WithFields(logrus.Fields{
				"role":     role,
				"stored":   snap.Date,
				"expected": expected,
			}).Info("Mirrored snapshot outdated, discarding")
			continue
		}
		a.store.Restore(snap)
		if r := a.reg.RendererFor(registry.RoleOwner(role)); r != nil {
			if err := r.Render(snap); err != nil {
				a.logger.WithError(err).WithField("role", role).Warn("Failed to render mirrored snapshot")
			}
		}
		a.logger.WithFields(logrus.Fields{"role": role, "date": snap.Date}).Info("Warm-started from mirror")
	}
}

// Start launches the scheduling machines and the push channel, then issues
// the initial refreshes for any role the warm start did not cover.
func (a *App) Start() error {
	a.midnight.Start(a.ctx, a.cfg.Agent.MidnightTick)
	a.window.Start(a.ctx, a.cfg.Agent.WindowTick)
	a.health.Start(a.ctx, a.cfg.Agent.HealthInterval)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.channel.Run(a.ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.checker.Run(a.ctx)
	}()

	a.lifecycle.Start(a.ctx)

	if a.apiServer != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.apiServer.Start(); err != nil && err != http.ErrServerClosed {
				a.logger.WithError(err).Error("Status API error")
			}
		}()
	}

	for _, role := range models.Roles() {
		if a.store.Get(role, a.ref.DateFor(role)) == nil {
			a.coord.Request(role)
		}
	}

	a.logger.WithFields(logrus.Fields{
		"date":     a.ref.Date(),
		"timezone": a.ref.Location().String(),
	}).Info("Scheduler started")
	return nil
}

// Stop shuts everything down: scheduling machines via the context, then the
// API, outstanding fetches, tracked resources and external connections.
func (a *App) Stop() error {
	a.logger.Info("Stopping scheduler...")
	a.cancel()

	if a.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.apiServer.Stop(ctx); err != nil {
			a.logger.WithError(err).Warn("Status API shutdown failed")
		}
		cancel()
	}

	a.coord.Wait()
	a.reg.Cleanup()

	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close mirror")
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	}

	a.wg.Wait()
	a.logger.Info("Scheduler stopped")
	return nil
}

// requestRestart is the update notice's action: ask the supervisor for a
// restart by exiting with a dedicated code once the caller drains the channel.
func (a *App) requestRestart(version string) {
	a.logger.WithField("version", version).Warn("Update countdown elapsed, requesting restart")
	select {
	case a.restartCh <- struct{}{}:
	default:
	}
}

// RestartRequested signals that the update notice elapsed and the process
// should be restarted into the new version.
func (a *App) RestartRequested() <-chan struct{} {
	return a.restartCh
}

// CancelUpdateNotice withdraws a pending update notice.
func (a *App) CancelUpdateNotice() {
	a.notice.Cancel()
}

// GetContext returns the application's base context.
func (a *App) GetContext() context.Context {
	return a.ctx
}
