package soadir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/skillcoder/kubedeploy/internal/logic/deployer"
)

const (
	serviceFile    = "service.yaml"
	templatePrefix = "_"
)

// Source reads instance configuration from a directory tree with one
// directory per service.
type Source struct {
	logger *slog.Logger
	root   fs.FS
}

// New creates a source rooted at dir.
func New(logger *slog.Logger, dir string) *Source {
	return NewFS(logger, os.DirFS(dir))
}

// NewFS creates a source over any file system.
func NewFS(logger *slog.Logger, root fs.FS) *Source {
	return &Source{
		logger: logger.With("component", "soadir"),
		root:   root,
	}
}

var _ deployer.ConfigSource = (*Source)(nil)

func clusterFile(cluster string) string {
	return "kubernetes-" + cluster + ".yaml"
}

// ListInstancesQuery returns every non-template instance declared for
// cluster, sorted by service then instance.
func (s *Source) ListInstancesQuery(ctx context.Context, cluster string) ([]deployer.InstanceRef, error) {
	entries, err := fs.ReadDir(s.root, ".")
	if err != nil {
		return nil, fmt.Errorf("read services dir: %w", err)
	}

	var refs []deployer.InstanceRef

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		instances, err := s.readYAML(path.Join(entry.Name(), clusterFile(cluster)))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable service config",
				"service", entry.Name(),
				"reason", err,
			)

			continue
		}

		names := make([]string, 0, len(instances))

		for name := range instances {
			if !strings.HasPrefix(name, templatePrefix) {
				names = append(names, name)
			}
		}

		slices.Sort(names)

		for _, name := range names {
			refs = append(refs, deployer.InstanceRef{Service: entry.Name(), Instance: name})
		}
	}

	return refs, nil
}

// LoadInstanceQuery returns the service defaults and the instance overrides.
// A missing service.yaml means no defaults.
func (s *Source) LoadInstanceQuery(
	_ context.Context,
	service,
	instance,
	cluster string,
) (*deployer.InstanceSource, error) {
	if !fs.ValidPath(service) || strings.Contains(service, "/") {
		return nil, &NotFoundError{Service: service, Instance: instance}
	}

	instances, err := s.readYAML(path.Join(service, clusterFile(cluster)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Service: service, Instance: instance}
	}

	if err != nil {
		return nil, err
	}

	raw, ok := instances[instance]
	if !ok || strings.HasPrefix(instance, templatePrefix) {
		return nil, &NotFoundError{Service: service, Instance: instance}
	}

	overrides, ok := raw.(map[string]any)
	if !ok && raw != nil {
		return nil, fmt.Errorf("%w: %s.%s is a %T, not a mapping", ErrInvalidConfigFile, service, instance, raw)
	}

	defaults, err := s.readYAML(path.Join(service, serviceFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	return &deployer.InstanceSource{
		Defaults:  orEmpty(defaults),
		Overrides: orEmpty(overrides),
	}, nil
}

func (s *Source) readYAML(name string) (map[string]any, error) {
	data, err := fs.ReadFile(s.root, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfigFile, name, err)
	}

	return out, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
