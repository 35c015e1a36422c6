// Package coach assembles the services commands and the TUI consume.
package coach

import (
	"context"

	"github.com/colonyops/coach/internal/api"
	"github.com/colonyops/coach/internal/coach/sweep"
	"github.com/colonyops/coach/internal/core/config"
	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/core/eventbus"
	"github.com/colonyops/coach/internal/core/session"
	"github.com/colonyops/coach/internal/data/db"
	"github.com/colonyops/coach/internal/data/stores"
)

// App is the central entry point for all coach operations.
// Commands and TUI consume App instead of cherry-picking raw dependencies.
type App struct {
	Goals         *GoalService
	Notifications *NotificationService

	Client *api.Client
	Bus    *eventbus.EventBus
	Config *config.Config
	DB     *db.DB
	KV     *stores.KVStore
}

// NewApp constructs an App from explicit dependencies and registers the
// notification router and history on bus.
func NewApp(
	cfg *config.Config,
	client *api.Client,
	database *db.DB,
	kvStore *stores.KVStore,
	bus *eventbus.EventBus,
) *App {
	app := &App{
		Goals:         NewGoalService(client, kvStore, cfg.Cache.DocumentListTTL, bus),
		Notifications: NewNotificationService(stores.NewNotifyStore(database)),
		Client:        client,
		Bus:           bus,
		Config:        cfg,
		DB:            database,
		KV:            kvStore,
	}

	eventbus.NewNotificationRouter(bus).Register()
	app.Notifications.Attach(bus)
	return app
}

// NewSession builds the realtime session for the authenticated user. The
// first connection is a login and gets the welcome flow.
func (a *App) NewSession() (*SessionService, error) {
	return a.newSession(session.NewLifecycle())
}

// NewOneShotSession builds a session whose connections are never logins,
// so the server skips the welcome message.
func (a *App) NewOneShotSession() (*SessionService, error) {
	lc := session.NewLifecycle()
	lc.MarkConnected()
	return a.newSession(lc)
}

func (a *App) newSession(lc *session.Lifecycle) (*SessionService, error) {
	var journal document.Journal
	if a.Config.JournalEnabled() {
		journal = stores.NewDraftJournal(a.DB)
	}
	return NewSessionService(a.Config, SessionDeps{
		Tickets:   a.Client,
		Persister: a.Client,
		Goals:     a.Goals,
		Journal:   journal,
		Lifecycle: lc,
		Bus:       a.Bus,
	})
}

// SweepCache removes expired cache entries periodically. It blocks until
// ctx is cancelled.
func (a *App) SweepCache(ctx context.Context) {
	sweep.Start(ctx, a.KV, a.Config.Cache.SweepInterval)
}
