package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Loader loads a config file and optionally watches it for changes.
type Loader struct {
	path string

	mu       sync.Mutex
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
}

func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// SetOnChange registers the callback invoked after a successful reload.
func (l *Loader) SetOnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

// Load reads, parses, and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", l.path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a validated Config.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expanded := expandValue(raw)

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(expanded); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Watch starts a background watcher that reloads on file change. Editors
// that replace the file are handled by watching the directory.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.stop = make(chan struct{})
	l.mu.Unlock()

	go l.watchLoop(watcher)
	slog.Info("Watching config file for changes", "path", l.path)
	return nil
}

func (l *Loader) watchLoop(watcher *fsnotify.Watcher) {
	// Debounce: editors fire several events per save.
	var timer *time.Timer
	target := filepath.Clean(l.path)

	for {
		select {
		case <-l.stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, l.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}

func (l *Loader) reload() {
	cfg, err := l.Load()
	if err != nil {
		slog.Error("Failed to reload config, keeping previous", "error", err)
		return
	}

	l.mu.Lock()
	fn := l.onChange
	l.mu.Unlock()

	slog.Info("Config reloaded", "path", l.path)
	if fn != nil {
		fn(cfg)
	}
}

// Stop shuts the watcher down. Safe to call without a prior Watch.
func (l *Loader) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.stop != nil {
			close(l.stop)
		}
		if l.watcher != nil {
			l.watcher.Close()
		}
	})
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandValue substitutes ${VAR} and ${VAR:-default} in string leaves.
func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return expandEnvString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = expandValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = expandValue(inner)
		}
		return out
	default:
		return v
	}
}

func expandEnvString(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok {
			return value
		}
		if strings.Contains(match, ":-") {
			return groups[2]
		}
		return ""
	})
}
