package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/droidpipe/agent/pkg/logger"
	"github.com/fsnotify/fsnotify"
)

type EventType string

const (
	EventCreate EventType = "create"
	EventWrite  EventType = "write"
	EventRemove EventType = "remove"
	EventRename EventType = "rename"
)

type FileEvent struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// ignoreSuffixes filters editor droppings and partial-extract noise so a
// running unpack does not flood the snapshot stream.
var ignoreSuffixes = []string{".tmp", ".swp", ".DS_Store", "~", ".partial"}

// Watcher monitors the local transfer directory so connected
// presentation layers see fresh directory snapshots after a transfer
// lands or files change between transfers.
type Watcher struct {
	watchPath     string
	events        chan FileEvent
	errors        chan error
	fsWatcher     *fsnotify.Watcher
	debounceMap   map[string]*time.Timer
	debounceMu    sync.Mutex
	debounceDelay time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

func NewWatcher(watchPath string, parentCtx context.Context) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &Watcher{
		watchPath:     watchPath,
		events:        make(chan FileEvent, 100),
		errors:        make(chan error, 10),
		fsWatcher:     fsWatcher,
		debounceMap:   make(map[string]*time.Timer),
		debounceDelay: 500 * time.Millisecond,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(w.watchPath); err != nil {
		return err
	}
	if err := w.addSubdirectories(w.watchPath); err != nil {
		logger.Log.Warn("failed to add some subdirectories", "err", err)
	}
	logger.Log.Info("transfer directory watcher started", "path", w.watchPath)
	w.wg.Add(2)
	go w.eventLoop()
	go w.errorLoop()
	return nil
}

func (w *Watcher) Stop() {
	w.cancel()
	w.fsWatcher.Close()
	w.wg.Wait()
	w.debounceMu.Lock()
	for _, timer := range w.debounceMap {
		timer.Stop()
	}
	w.debounceMap = nil
	w.debounceMu.Unlock()
	close(w.events)
	close(w.errors)
	logger.Log.Info("transfer directory watcher stopped")
}

func (w *Watcher) Events() <-chan FileEvent {
	return w.events
}

func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		}
	}
}

func (w *Watcher) errorLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				logger.Log.Error("watcher error channel full, dropping", "err", err)
			}
		}
	}
}

func ignored(path string) bool {
	for _, suffix := range ignoreSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if ignored(event.Name) {
		return
	}
	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventCreate
		// New directories under an extracting tree need watching too.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsWatcher.Add(event.Name); err != nil {
				logger.Log.Warn("failed to watch new subdirectory", "path", event.Name, "err", err)
			}
		}
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventWrite
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventRemove
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventRename
	default:
		return
	}
	w.debounceEvent(eventType, event.Name)
}

// debounceEvent coalesces the event burst an extracting tar produces
// into one snapshot-worthy notification per file.
func (w *Watcher) debounceEvent(eventType EventType, filePath string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if timer, exists := w.debounceMap[filePath]; exists {
		timer.Stop()
	}
	timer := time.AfterFunc(w.debounceDelay, func() {
		w.debounceMu.Lock()
		delete(w.debounceMap, filePath)
		w.debounceMu.Unlock()
		fileEvent := FileEvent{
			Type:      eventType,
			Path:      filePath,
			Timestamp: time.Now(),
		}
		select {
		case w.events <- fileEvent:
		case <-w.ctx.Done():
		default:
			logger.Log.Warn("events channel full, dropping event", "path", filePath)
		}
	})
	w.debounceMap[filePath] = timer
}

func (w *Watcher) addSubdirectories(rootPath string) error {
	return filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if err := w.fsWatcher.Add(path); err != nil {
				logger.Log.Warn("failed to watch subdirectory", "path", path, "err", err)
			}
		}
		return nil
	})
}
