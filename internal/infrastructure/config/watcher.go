package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// PolicyWatcher hot-reloads the per-family agent policy overrides
// (reasoning-effort clamps, PATH overrides) from agent_policies.yaml
// without restarting the coordinator. Safe for concurrent reads from
// the agent manager's spawn path.
type PolicyWatcher struct {
	path    string
	mu      sync.RWMutex
	current map[string]AgentPolicyConfig
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	logger  *zap.Logger
}

// PoliciesPath is where NewPolicyWatcher looks by default.
func PoliciesPath() string {
	return filepath.Join(HomeDir(), "agent_policies.yaml")
}

// NewPolicyWatcher creates the watcher and performs the initial load.
// A missing or unparsable file leaves the defaults in place.
func NewPolicyWatcher(path string, defaults map[string]AgentPolicyConfig, logger *zap.Logger) (*PolicyWatcher, error) {
	if path == "" {
		path = PoliciesPath()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &PolicyWatcher{
		path:    path,
		current: clonePolicies(defaults),
		stopCh:  make(chan struct{}),
		logger:  logger.With(zap.String("component", "policy-watcher")),
	}

	if err := w.reload(); err != nil {
		w.logger.Warn("Initial policy load failed, using defaults",
			zap.String("path", path),
			zap.Error(err),
		)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}
	w.watcher = fw

	// Watch the directory, not the file: editors replace the file on
	// save, which drops a file-level watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	return w, nil
}

// Policy returns the current override for one agent family, if any.
func (w *PolicyWatcher) Policy(family string) (AgentPolicyConfig, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.current[family]
	return p, ok
}

// Policies returns a copy of the full override table.
func (w *PolicyWatcher) Policies() map[string]AgentPolicyConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return clonePolicies(w.current)
}

// Start consumes filesystem events until Stop is called.
func (w *PolicyWatcher) Start() {
	w.logger.Info("Policy watcher started", zap.String("path", w.path))

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("Policy watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reload(); err != nil {
				w.logger.Warn("Policy reload failed", zap.Error(err))
				continue
			}
			w.logger.Info("Agent policies reloaded")

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

// Stop shuts the watcher down.
func (w *PolicyWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
}

func (w *PolicyWatcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}

	parsed := make(map[string]AgentPolicyConfig)
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return err
	}

	w.mu.Lock()
	w.current = parsed
	w.mu.Unlock()
	return nil
}

func clonePolicies(in map[string]AgentPolicyConfig) map[string]AgentPolicyConfig {
	out := make(map[string]AgentPolicyConfig, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
