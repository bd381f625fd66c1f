package kernel

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
)

// MinSupportedConfigVersion is the lowest config schema version this
// kernel build understands. Bumped whenever KernelConfig gains a field
// whose absence would change boot behavior.
const MinSupportedConfigVersion = "1.0.0"

// KernelConfig describes the two subsystems this kernel actually boots.
// Unlike the reference kernel's KernelConfig, there is no network,
// filesystem, or security section: this build's scope is the region
// allocator and the cooperative scheduler only.
type KernelConfig struct {
	ConfigVersion string `json:"config_version"`

	RegionSize uintptr `json:"region_size"`
	UseMmap    bool    `json:"use_mmap"`
	StackSize  uintptr `json:"stack_size"`

	DebugEnabled bool `json:"debug_enabled"`
}

// DefaultKernelConfig returns the configuration CreateMinimalOS boots with
// absent an on-disk override.
func DefaultKernelConfig() *KernelConfig {
	return &KernelConfig{
		ConfigVersion: MinSupportedConfigVersion,
		RegionSize:    16 * 1024 * 1024,
		UseMmap:       true,
		StackSize:     128 * 1024,
		DebugEnabled:  true,
	}
}

func validateConfigVersion(v string) error {
	cur, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid config_version %q: %w", v, err)
	}
	min, err := semver.NewVersion(MinSupportedConfigVersion)
	if err != nil {
		return fmt.Errorf("invalid MinSupportedConfigVersion: %w", err)
	}
	if cur.LessThan(min) {
		return fmt.Errorf("config_version %s predates minimum supported %s", cur, min)
	}
	return nil
}

// LoadKernelConfig reads and validates a KernelConfig from a JSON file. A
// config whose version is older than MinSupportedConfigVersion is
// rejected rather than silently coerced.
func LoadKernelConfig(path string) (*KernelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultKernelConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := validateConfigVersion(cfg.ConfigVersion); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigWatcher reloads a KernelConfig whenever its backing file changes
// and hands the new value to onChange. Only fields that can safely change
// after boot without tearing down live subsystems should be acted on by
// onChange; this kernel only honors DebugEnabled from a hot reload, since
// RegionSize and StackSize are fixed at InitializeMemoryManager /
// InitializeScheduler time.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	path    string

	mutex sync.Mutex
	done  chan struct{}
}

// WatchKernelConfig starts watching path for changes, invoking onChange
// with each successfully reloaded config. The returned watcher must be
// closed by the caller.
func WatchKernelConfig(path string, onChange func(*KernelConfig)) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	cw := &ConfigWatcher{watcher: w, path: path, done: make(chan struct{})}

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := LoadKernelConfig(path)
				if err != nil {
					continue
				}
				onChange(cfg)
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-cw.done:
				return
			}
		}
	}()

	return cw, nil
}

// Close stops the watcher goroutine and releases its inotify handle.
func (cw *ConfigWatcher) Close() error {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	select {
	case <-cw.done:
		return nil
	default:
		close(cw.done)
	}

	return cw.watcher.Close()
}
