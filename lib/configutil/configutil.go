// Package configutil loads json5 config files with optional local overrides.
package configutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// ErrNotFound is returned when neither the config file nor its local
// override exists.
var ErrNotFound = fmt.Errorf("config not found: %w", os.ErrNotExist)

// LocalPath returns the override path for name, "filing.json5" becomes
// "filing.local.json5".
func LocalPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// readLayer decodes path into a fresh T. A missing or empty file is not an
// error, found is false then.
func readLayer[T any](path string) (layer T, found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return layer, false, nil
	}
	if err != nil {
		return layer, false, err
	}
	if len(data) == 0 {
		return layer, false, nil
	}
	err = json5.Unmarshal(data, &layer)
	if err != nil {
		return layer, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return layer, true, nil
}

// ReadConfig reads name and then its local override (see LocalPath), values
// set in the override win. ErrNotFound is returned only when both are
// missing.
func ReadConfig[T any](name string) (T, error) {
	out, found, err := readLayer[T](name)
	if err != nil {
		return out, err
	}

	local := LocalPath(name)
	override, localFound, err := readLayer[T](local)
	if err != nil {
		return out, err
	}
	if localFound {
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, fmt.Errorf("merge %s: %w", local, err)
		}
		slog.Info("merged local config overrides", "path", local)
	}

	if !found && !localFound {
		return out, ErrNotFound
	}
	return out, nil
}

// ReadRecursively looks for name in the cwd and every parent directory, the
// nearest one wins.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	dir, err := os.Getwd()
	if err != nil {
		return zero, err
	}
	for {
		config, err := ReadConfig[T](filepath.Join(dir, name))
		if err == nil {
			return config, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return zero, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return zero, ErrNotFound
		}
		dir = parent
	}
}

// ReadFrom reads the config at an explicit path when one is given and
// searches for name from the cwd upwards otherwise.
func ReadFrom[T any](path, name string) (T, error) {
	if path != "" {
		return ReadConfig[T](path)
	}
	return ReadRecursively[T](name)
}
