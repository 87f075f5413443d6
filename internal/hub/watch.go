package hub

import (
	"sort"
	"sync"
)

// WatchManager tracks which stream connections watch which paths.
type WatchManager struct {
	watchers map[string]map[string]struct{} // path -> connection IDs
	byConn   map[string]map[string]struct{} // connection ID -> paths
	mu       sync.RWMutex

	// OnActiveChanged is called with (path, true) on a 0->1 watcher
	// transition and (path, false) on 1->0.
	OnActiveChanged func(path string, active bool)
}

// NewWatchManager creates a new WatchManager.
func NewWatchManager() *WatchManager {
	return &WatchManager{
		watchers: make(map[string]map[string]struct{}),
		byConn:   make(map[string]map[string]struct{}),
	}
}

// Watch adds connectionID as a watcher of path and returns the new count.
// Watching the same path twice from one connection counts once.
func (wm *WatchManager) Watch(path, connectionID string) int {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	conns := wm.watchers[path]
	if conns == nil {
		conns = make(map[string]struct{})
		wm.watchers[path] = conns
	}
	prev := len(conns)
	conns[connectionID] = struct{}{}

	paths := wm.byConn[connectionID]
	if paths == nil {
		paths = make(map[string]struct{})
		wm.byConn[connectionID] = paths
	}
	paths[path] = struct{}{}

	if prev == 0 && len(conns) == 1 && wm.OnActiveChanged != nil {
		wm.OnActiveChanged(path, true)
	}
	return len(conns)
}

// Unwatch removes connectionID from path and returns the remaining count.
func (wm *WatchManager) Unwatch(path, connectionID string) int {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.unwatchLocked(path, connectionID)
}

func (wm *WatchManager) unwatchLocked(path, connectionID string) int {
	conns, ok := wm.watchers[path]
	if !ok {
		return 0
	}
	if _, watching := conns[connectionID]; !watching {
		return len(conns)
	}
	delete(conns, connectionID)
	if paths := wm.byConn[connectionID]; paths != nil {
		delete(paths, path)
		if len(paths) == 0 {
			delete(wm.byConn, connectionID)
		}
	}
	if len(conns) == 0 {
		delete(wm.watchers, path)
		if wm.OnActiveChanged != nil {
			wm.OnActiveChanged(path, false)
		}
	}
	return len(conns)
}

// Watchers returns the connection IDs watching path.
func (wm *WatchManager) Watchers(path string) []string {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	conns := wm.watchers[path]
	if len(conns) == 0 {
		return nil
	}
	result := make([]string, 0, len(conns))
	for id := range conns {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// WatcherCount returns the number of connections watching path.
func (wm *WatchManager) WatcherCount(path string) int {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return len(wm.watchers[path])
}

// UnwatchAll removes all watches for a connection (e.g., on disconnect)
// and returns the paths it was watching.
func (wm *WatchManager) UnwatchAll(connectionID string) []string {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	var unwatched []string
	for path := range wm.byConn[connectionID] {
		unwatched = append(unwatched, path)
	}
	for _, path := range unwatched {
		wm.unwatchLocked(path, connectionID)
	}
	sort.Strings(unwatched)
	return unwatched
}
