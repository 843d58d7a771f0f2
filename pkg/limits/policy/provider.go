package policy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"mercator-hq/cooldown/pkg/limits"
)

// Document is the on-disk policy file layout.
//
//	features:
//	  refresh:
//	    limit: 2
//	    cooldown: 120s
//	    min_tier: lite
type Document struct {
	Features map[string]limits.LimitPolicy `yaml:"features"`
}

// Parse decodes and validates a policy document.
func Parse(data []byte) (map[string]limits.LimitPolicy, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy document: %w", err)
	}

	var errs []error
	policies := make(map[string]limits.LimitPolicy, len(doc.Features))
	for id, p := range doc.Features {
		if id == "" || strings.Contains(id, ":") {
			errs = append(errs, fmt.Errorf("feature %q: id must be non-empty and contain no ':'", id))
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("feature %q: %w", id, err))
			continue
		}
		p.FeatureID = id
		policies[id] = p
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return policies, nil
}

// LoadFile reads and parses the policy file at path.
func LoadFile(path string) (map[string]limits.LimitPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// FileProvider serves policies from a YAML file. A reload that fails keeps
// the previous policy set.
type FileProvider struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	policies map[string]limits.LimitPolicy
	loadedAt time.Time
	loaded   bool
	lastErr  error
}

var _ limits.PolicyProvider = (*FileProvider)(nil)

// NewFileProvider creates a provider for path. Call Reload before use.
func NewFileProvider(path string, logger *slog.Logger) *FileProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileProvider{
		path:   path,
		logger: logger.With("component", "limits.policy", "path", path),
	}
}

// Get returns the policy for featureID.
func (p *FileProvider) Get(_ context.Context, featureID string) (limits.LimitPolicy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.loaded {
		return limits.LimitPolicy{}, fmt.Errorf("%w: policy file %s not loaded", limits.ErrPolicyUnavailable, p.path)
	}
	pol, ok := p.policies[featureID]
	if !ok {
		return limits.LimitPolicy{}, fmt.Errorf("%w: feature %q not in %s", limits.ErrPolicyUnavailable, featureID, p.path)
	}
	return pol, nil
}

// Reload re-reads the file.
func (p *FileProvider) Reload() error {
	policies, err := LoadFile(p.path)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.lastErr = err
		if p.loaded {
			p.logger.Warn("policy reload failed, keeping previous policies",
				"error", err,
				"features", len(p.policies),
			)
		}
		return err
	}

	p.policies = policies
	p.loaded = true
	p.loadedAt = time.Now()
	p.lastErr = nil
	p.logger.Info("policies loaded", "features", len(policies))
	return nil
}

// Features returns the configured feature IDs, sorted.
func (p *FileProvider) Features() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.policies))
	for id := range p.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status reports when policies were last loaded and the last reload error.
func (p *FileProvider) Status() (loadedAt time.Time, lastErr error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loadedAt, p.lastErr
}

// Watch reloads on every change to the file until ctx is cancelled.
func (p *FileProvider) Watch(ctx context.Context, debounce time.Duration) error {
	fw, err := NewFileWatcher(p.path, debounce, p.logger)
	if err != nil {
		return err
	}
	defer fw.Stop()
	return fw.Watch(ctx, p.Reload)
}
