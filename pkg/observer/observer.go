// Package observer watches the workspace file tree and batches changes into
// debounced file_changed events, each annotated with the checkers the batch
// affects.
package observer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/models"
)

const stopTimeout = 3 * time.Second

// Observer watches one workspace root recursively. Changes are coalesced
// over a debounce window and emitted as one batched event.
type Observer struct {
	root        string
	workspaceID string
	cfg         config.AgentConfig
	emit        func(models.Event)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	// pending accumulates the current batch, keyed by relative path so a
	// file touched repeatedly within the window appears once.
	pending map[string]models.FileChange
}

// New creates an observer that emits batched events through emit.
func New(root, workspaceID string, cfg config.AgentConfig, emit func(models.Event)) *Observer {
	return &Observer{
		root:        root,
		workspaceID: workspaceID,
		cfg:         cfg,
		emit:        emit,
		pending:     make(map[string]models.FileChange),
	}
}

// Start begins watching. The watch set covers each configured watch dir and
// every non-ignored subdirectory; directories created later are added on the
// fly.
func (o *Observer) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	o.watcher = watcher

	dirs := 0
	for _, base := range o.watchRoots() {
		dirs += o.addRecursive(base)
	}
	if dirs == 0 {
		_ = watcher.Close()
		return fmt.Errorf("no watchable directories under %s", o.root)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	o.running.Store(true)
	go o.run(runCtx)

	slog.Info("File observer started", "root", o.root, "directories", dirs,
		"debounce", o.cfg.Debounce)
	return nil
}

// Running reports whether the observer is watching.
func (o *Observer) Running() bool { return o.running.Load() }

// Stop shuts the watcher down, waiting up to 3 seconds for the event loop
// to drain.
func (o *Observer) Stop() {
	if o.cancel == nil {
		return
	}
	o.running.Store(false)
	o.cancel()
	_ = o.watcher.Close()
	select {
	case <-o.done:
	case <-time.After(stopTimeout):
		slog.Warn("File observer did not stop in time")
	}
}

func (o *Observer) run(ctx context.Context) {
	defer close(o.done)

	debounce := time.NewTimer(o.cfg.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			if o.handleEvent(ev) {
				if armed && !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(o.cfg.Debounce)
				armed = true
			}

		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error", "error", err)

		case <-debounce.C:
			armed = false
			o.flush()
		}
	}
}

// handleEvent records one raw fsnotify event. Returns true when the event
// contributed to the pending batch and the debounce timer should re-arm.
func (o *Observer) handleEvent(ev fsnotify.Event) bool {
	if ev.Op&fsnotify.Chmod != 0 && ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	rel, err := filepath.Rel(o.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}

	// A created directory extends the watch set but is not itself a change.
	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			if !o.ignoreDir(filepath.Base(ev.Name)) {
				o.addRecursive(ev.Name)
			}
			return false
		}
	}

	if o.ignoreFile(rel) {
		return false
	}

	var change string
	switch {
	case ev.Op&fsnotify.Create != 0:
		change = "created"
	case ev.Op&fsnotify.Remove != 0:
		change = "deleted"
	default:
		// Writes and renames both present as modifications.
		change = "modified"
	}

	o.pending[rel] = models.FileChange{
		Path:       ev.Name,
		ChangeType: change,
		Extension:  fileExtension(filepath.Base(rel)),
		RelPath:    rel,
	}
	return true
}

// flush emits the accumulated batch as one file_changed event.
func (o *Observer) flush() {
	if len(o.pending) == 0 {
		return
	}

	paths := make([]string, 0, len(o.pending))
	for p := range o.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	files := make([]any, 0, len(paths))
	affected := make(map[string]struct{})
	for _, p := range paths {
		fc := o.pending[p]
		files = append(files, map[string]any{
			"path":   fc.RelPath,
			"change": fc.ChangeType,
			"ext":    fc.Extension,
		})
		for _, c := range checkersForFile(p) {
			affected[c] = struct{}{}
		}
	}
	o.pending = make(map[string]models.FileChange)

	checkers := make([]string, 0, len(affected))
	for c := range affected {
		checkers = append(checkers, c)
	}
	sort.Strings(checkers)

	slog.Debug("File change batch", "files", len(files), "affected_checkers", checkers)

	o.emit(models.NewEvent(models.EventFileChanged, "watcher", o.workspaceID, map[string]any{
		"files":             files,
		"affected_checkers": checkers,
		"file_count":        len(files),
	}))
}

// watchRoots resolves agent.watch_dirs against the workspace root. "." and
// "" select the root itself; entries escaping the root are skipped.
func (o *Observer) watchRoots() []string {
	dirs := o.cfg.WatchDirs
	if len(dirs) == 0 {
		dirs = []string{"."}
	}

	seen := make(map[string]struct{}, len(dirs))
	roots := make([]string, 0, len(dirs))
	for _, d := range dirs {
		p := filepath.Clean(filepath.Join(o.root, d))
		if rel, err := filepath.Rel(o.root, p); err != nil || strings.HasPrefix(rel, "..") {
			slog.Warn("Ignoring watch dir outside workspace root", "dir", d)
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		roots = append(roots, p)
	}
	return roots
}

// addRecursive adds path and all non-ignored subdirectories to the watch
// set, returning the number of directories added.
func (o *Observer) addRecursive(path string) int {
	added := 0
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("Skipping unreadable path", "path", p, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && o.ignoreDir(d.Name()) {
			return filepath.SkipDir
		}
		if watchErr := o.watcher.Add(p); watchErr != nil {
			slog.Warn("Failed to watch directory", "path", p, "error", watchErr)
			return nil
		}
		added++
		return nil
	})
	if err != nil {
		slog.Warn("Directory walk failed", "path", path, "error", err)
	}
	return added
}

func (o *Observer) ignoreDir(name string) bool {
	if _, ok := ignoreDirs[name]; ok {
		return true
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, pattern := range o.cfg.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

// ignoreFile decides whether a relative path is reportable. Hidden files
// are dropped unless allowlisted; extensions the agent writes itself are
// always dropped to avoid self-triggering.
func (o *Observer) ignoreFile(rel string) bool {
	base := filepath.Base(rel)
	if _, ok := ignoreFiles[base]; ok {
		return true
	}

	ext := fileExtension(base)
	if _, ok := selfTriggerExtensions[ext]; ok {
		return true
	}

	_, allowed := hiddenAllowlist[base]
	if strings.HasPrefix(base, ".") && !allowed {
		return true
	}

	for _, segment := range strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/") {
		if segment == "." || segment == "" {
			continue
		}
		if o.ignoreDir(segment) {
			return true
		}
	}

	for _, ignored := range o.cfg.IgnoreExtensions {
		if ext == strings.ToLower(ignored) {
			return true
		}
	}
	for _, pattern := range o.cfg.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if strings.Contains(rel, pattern) {
			return true
		}
	}

	// Unknown extensions carry no checker routing and only add noise,
	// except allowlisted dotfiles which route by path keyword.
	if _, known := extensionCheckerMap[ext]; !known && ext != "" && !allowed {
		return true
	}

	return false
}
