package daemon

import (
	"context"
	"time"

	"github.com/droidpipe/agent/internal/config"
	"github.com/droidpipe/agent/internal/events"
	"github.com/droidpipe/agent/internal/models"
	"github.com/droidpipe/agent/internal/session"
	"github.com/droidpipe/agent/internal/sysinfo"
	"github.com/droidpipe/agent/internal/watcher"
	"github.com/droidpipe/agent/pkg/logger"
	"github.com/google/uuid"
)

// Application is the serve-mode assembly: event hub, websocket server,
// transfer orchestrator, directory watcher and status reporting.
type Application struct {
	agentID string
	config  *config.Config
	hub     *events.Hub
	orch    *session.Orchestrator
	server  *events.Server
	watcher *watcher.Watcher
}

func NewApplication(cfg *config.Config) *Application {
	hub := events.NewHub()
	orch := session.New(cfg, hub.Broadcast)
	return &Application{
		agentID: uuid.NewString(),
		config:  cfg,
		hub:     hub,
		orch:    orch,
		server:  events.NewServer(cfg, hub, orch),
	}
}

// Run blocks until the context is cancelled.
func (app *Application) Run(appCtx context.Context) {
	w, err := watcher.NewWatcher(app.config.LocalRoot(), appCtx)
	if err != nil {
		logger.Log.Warn("failed to create directory watcher", "err", err)
	} else if err := w.Start(); err != nil {
		logger.Log.Warn("failed to start directory watcher", "err", err)
	} else {
		app.watcher = w
		go app.handleFileEvents(appCtx)
		go app.handleWatcherErrors(appCtx)
		go app.sendInitialSnapshot()
	}
	go app.statusLoop(appCtx)

	if err := app.server.ListenAndServe(appCtx); err != nil {
		logger.Log.Error("event server failed", "err", err)
	}
	app.Shutdown()
}

func (app *Application) Shutdown() {
	app.orch.Cancel()
	if app.watcher != nil {
		app.watcher.Stop()
		app.watcher = nil
	}
}

// statusLoop broadcasts host metrics so presentation layers can show
// destination disk pressure alongside transfer progress.
func (app *Application) statusLoop(appCtx context.Context) {
	ticker := time.NewTicker(app.config.StatusInterval())
	defer ticker.Stop()
	for {
		select {
		case <-appCtx.Done():
			logger.Log.Info("stopping status loop for shutdown")
			return
		case <-ticker.C:
			if app.hub.ConnectionCount() == 0 {
				continue
			}
			app.hub.Broadcast(models.Message{
				Type:    models.MsgAgentStatus,
				Payload: sysinfo.Status(app.agentID, app.config.LocalRoot()),
			})
		}
	}
}

func (app *Application) handleFileEvents(appCtx context.Context) {
	for {
		select {
		case <-appCtx.Done():
			logger.Log.Info("stopping file event handler")
			return
		case event, ok := <-app.watcher.Events():
			if !ok {
				return
			}
			logger.Log.Info("file event detected", "type", event.Type, "path", event.Path)
			app.broadcastSnapshot()
		}
	}
}

func (app *Application) handleWatcherErrors(appCtx context.Context) {
	for {
		select {
		case <-appCtx.Done():
			return
		case err, ok := <-app.watcher.Errors():
			if !ok {
				return
			}
			logger.Log.Error("directory watcher error", "err", err)
		}
	}
}

func (app *Application) sendInitialSnapshot() {
	time.Sleep(1 * time.Second)
	app.broadcastSnapshot()
}

func (app *Application) broadcastSnapshot() {
	snapshot, err := watcher.Snapshot(app.agentID, app.config.LocalRoot())
	if err != nil {
		logger.Log.Error("failed to scan transfer directory", "err", err)
		return
	}
	app.hub.Broadcast(models.Message{
		Type:    models.MsgDirectorySnapshot,
		Payload: snapshot,
	})
	logger.Log.Info("directory snapshot sent", "files", snapshot.Directory.TotalFiles)
}
