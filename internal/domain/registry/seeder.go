package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/charlievieth/fastwalk"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/utils"
)

// DefaultPattern matches every supported definition format
const DefaultPattern = "**/*.{yaml,yml,toml,json}"

// SeedResult summarises a seeding pass
type SeedResult struct {
	Published []string `json:"published"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
	Failed    []string `json:"failed"`
}

// Seeder loads system block types from disk
type Seeder struct {
	registry *Registry
	dir      string
	pattern  string
	logger   *zap.Logger
}

// NewSeeder creates a seeder reading definitions under dir
func NewSeeder(registry *Registry, dir, pattern string) *Seeder {
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &Seeder{
		registry: registry,
		dir:      dir,
		pattern:  pattern,
		logger:   registry.logger.Named("seeder"),
	}
}

// Seed publishes every definition found. A definition whose key already
// exists is published as a new version only when its content changed.
// Files that fail to load are logged and counted, not fatal.
func (s *Seeder) Seed(ctx context.Context) (*SeedResult, error) {
	result := &SeedResult{}

	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		s.logger.Warn("block type directory not found", zap.String("dir", s.dir))
		return result, nil
	}

	files, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("seeding block types", zap.String("dir", s.dir), zap.Int("files", len(files)))

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		draft, err := LoadDefinition(path)
		if err != nil {
			s.logger.Warn("failed to load block type", zap.String("file", path), zap.Error(err))
			result.Failed = append(result.Failed, path)
			continue
		}

		outcome, err := s.apply(ctx, draft)
		if err != nil {
			s.logger.Warn("failed to publish block type",
				zap.String("file", path),
				zap.String("key", draft.Key),
				zap.Error(err))
			result.Failed = append(result.Failed, path)
			continue
		}

		switch outcome {
		case "published":
			result.Published = append(result.Published, draft.Key)
		case "updated":
			result.Updated = append(result.Updated, draft.Key)
		default:
			result.Unchanged = append(result.Unchanged, draft.Key)
		}
	}

	s.logger.Info("seeding complete",
		zap.Int("published", len(result.Published)),
		zap.Int("updated", len(result.Updated)),
		zap.Int("unchanged", len(result.Unchanged)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// discover walks dir and returns matching files in a stable order
func (s *Seeder) discover(ctx context.Context) ([]string, error) {
	var (
		mu    sync.Mutex
		files []string
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, s.dir, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil || d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return nil
		}
		if ok, _ := doublestar.Match(s.pattern, filepath.ToSlash(rel)); ok {
			mu.Lock()
			files = append(files, p)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", s.dir, err)
	}

	sort.Strings(files)
	return files, nil
}

func (s *Seeder) apply(ctx context.Context, draft *types.BlockType) (string, error) {
	current, err := s.registry.Latest(ctx, "", draft.Key)
	if errs.IsNotFound(err) {
		if _, err := s.registry.Publish(ctx, "", draft); err != nil {
			return "", err
		}
		return "published", nil
	}
	if err != nil {
		return "", err
	}

	same, err := sameDefinition(current, draft)
	if err != nil {
		return "", err
	}
	if same {
		return "unchanged", nil
	}
	if _, err := s.registry.Update(ctx, "", current.ID, draft); err != nil {
		return "", err
	}
	return "updated", nil
}

// definition is the content of a block type that seeding compares
type definition struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Kind        types.PayloadKind `json:"kind"`
	Schema      *types.Schema     `json:"schema"`
	Display     types.Display     `json:"display"`
	Nesting     *types.Nesting    `json:"nesting"`
	Strictness  types.Strictness  `json:"strictness"`
}

func definitionOf(bt *types.BlockType) definition {
	d := definition{
		Name:        bt.Name,
		Description: bt.Description,
		Kind:        bt.Kind,
		Schema:      bt.Schema,
		Display:     bt.Display,
		Nesting:     bt.Nesting,
		Strictness:  bt.Strictness,
	}
	if d.Kind == "" {
		d.Kind = types.PayloadContent
	}
	if d.Strictness == "" {
		d.Strictness = types.StrictnessStrict
	}
	return d
}

func sameDefinition(a, b *types.BlockType) (bool, error) {
	hasher := utils.DefaultHasher()
	ha, err := hasher.HashJSON(definitionOf(a))
	if err != nil {
		return false, err
	}
	hb, err := hasher.HashJSON(definitionOf(b))
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

// LoadDefinition reads one block type definition. YAML and TOML documents
// are normalised to JSON so a single set of json tags describes every format.
func LoadDefinition(path string) (*types.BlockType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeDefinition(strings.ToLower(filepath.Ext(path)), data)
}

// DecodeDefinition decodes data according to ext (".yaml", ".yml", ".toml" or ".json")
func DecodeDefinition(ext string, data []byte) (*types.BlockType, error) {
	var doc map[string]any

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	case ".json":
		if err := sonic.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported definition format %q", ext)
	}

	normalised, err := sonic.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalise definition: %w", err)
	}

	var bt types.BlockType
	if err := sonic.Unmarshal(normalised, &bt); err != nil {
		return nil, fmt.Errorf("failed to decode block type: %w", err)
	}
	if bt.Key == "" || bt.Name == "" {
		return nil, fmt.Errorf("definition missing required fields (key, name)")
	}
	return &bt, nil
}
