package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	kpnc "github.com/slush-dev/kpnc"
)

// Registry is a directory of receiver descriptors, one JSON file per
// receiver. It is read from disk on every lookup so receivers can come and
// go while the agent runs.
type Registry struct {
	dir    string
	logger *slog.Logger
}

// NewRegistry creates a Registry rooted at dir.
func NewRegistry(dir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{dir: dir, logger: logger.With("component", "registry")}
}

// Dir returns the registry directory.
func (r *Registry) Dir() string { return r.dir }

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, ".")
}

func (r *Registry) path(name string) string {
	return filepath.Join(r.dir, name+".json")
}

// Register writes or replaces the descriptor for target.Name.
func (r *Registry) Register(target kpnc.ReceiverTarget) error {
	if !validName(target.Name) {
		return fmt.Errorf("invalid receiver name %q", target.Name)
	}
	if target.HubURL == "" {
		return fmt.Errorf("receiver %s: hub url is required", target.Name)
	}
	if len(target.Actions) == 0 {
		return fmt.Errorf("receiver %s: at least one action is required", target.Name)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	data, err := json.MarshalIndent(target, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing receiver: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, ".receiver-*")
	if err != nil {
		return fmt.Errorf("writing receiver: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing receiver: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing receiver: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path(target.Name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("registering receiver: %w", err)
	}
	r.logger.Debug("Registered receiver", "name", target.Name, "hub_url", target.HubURL)
	return nil
}

// Unregister removes the descriptor for name. Unknown names are ignored.
func (r *Registry) Unregister(name string) error {
	if !validName(name) {
		return fmt.Errorf("invalid receiver name %q", name)
	}
	if err := os.Remove(r.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("unregistering receiver: %w", err)
	}
	r.logger.Debug("Unregistered receiver", "name", name)
	return nil
}

// List returns every readable descriptor sorted by name.
func (r *Registry) List(ctx context.Context) ([]kpnc.ReceiverTarget, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}

	var targets []kpnc.ReceiverTarget
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			r.logger.Warn("Skipping unreadable receiver", "file", name, "error", err)
			continue
		}
		var t kpnc.ReceiverTarget
		if err := json.Unmarshal(data, &t); err != nil || t.Name == "" || t.HubURL == "" {
			r.logger.Warn("Skipping malformed receiver", "file", name)
			continue
		}
		targets = append(targets, t)
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets, nil
}

// Discover returns the receivers that accept action.
func (r *Registry) Discover(ctx context.Context, action string) ([]kpnc.ReceiverTarget, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []kpnc.ReceiverTarget
	for _, t := range all {
		if t.Accepts(action) {
			out = append(out, t)
		}
	}
	r.logger.Debug("Discovered receivers", "action", action, "count", len(out))
	return out, nil
}
