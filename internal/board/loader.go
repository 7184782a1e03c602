package board

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/KevinKickass/HostEmu/internal/types"
	"gopkg.in/yaml.v3"
)

// DefaultProfileName resolves to DefaultProfile without touching the
// filesystem.
const DefaultProfileName = "default"

type ProfileLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewProfileLoader(searchPaths []string) (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load returns the named profile. A name with a .yaml or .yml extension
// is read as a path; other names are looked up as <name>.yaml in the
// search paths.
func (l *ProfileLoader) Load(name string) (*types.BoardProfileDefinition, error) {
	if name == "" || name == DefaultProfileName {
		return DefaultProfile(), nil
	}

	// Cache-Check
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*types.BoardProfileDefinition), nil
	}

	data, foundPath, err := l.read(name)
	if err != nil {
		return nil, err
	}

	profile, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", foundPath, err)
	}

	l.cache.Store(name, profile)

	return profile, nil
}

func (l *ProfileLoader) read(name string) ([]byte, string, error) {
	ext := filepath.Ext(name)
	if ext == ".yaml" || ext == ".yml" {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, "", fmt.Errorf("read profile %s: %w: %v", name, types.StatusInvalidArgument, err)
		}
		return data, name, nil
	}

	for _, searchPath := range l.searchPaths {
		fullPath := filepath.Join(searchPath, name+".yaml")
		data, err := os.ReadFile(fullPath)
		if err == nil {
			return data, fullPath, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("read profile %s: %w: %v", fullPath, types.StatusInvalidArgument, err)
		}
	}

	return nil, "", fmt.Errorf("profile not found: %s (searched in: %v): %w", name, l.searchPaths, types.StatusInvalidArgument)
}

// Parse decodes and validates a YAML profile.
func (l *ProfileLoader) Parse(data []byte) (*types.BoardProfileDefinition, error) {
	var profile types.BoardProfileDefinition
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w: %v", types.StatusInvalidArgument, err)
	}

	if err := l.validator.ValidateProfileDefinition(&profile); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &profile, nil
}

func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
