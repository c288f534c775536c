package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func absoluteFilename(filename string) (string, error) {
	if filepath.Ext(filename) != ".go" {
		return "", errors.Errorf("please input .go file, got %s", filename)
	}
	abs, err := filepath.Abs(filename)
	if err != nil {
		return "", err
	}
	if _, err = os.Stat(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// build compiles filename with optimizations and inlining disabled, which
// keeps frame pointers and line tables usable, into a temporary file.
func build(filename string) (string, error) {
	f, err := os.CreateTemp("", "__"+strings.TrimSuffix(filepath.Base(filename), ".go")+"__")
	if err != nil {
		return "", err
	}
	execfile := f.Name()
	f.Close()

	args := []string{"build", "-gcflags", "all=-N -l", "-o", execfile, filename}
	logger.Debug("build", zap.String("cmd", "go "+strings.Join(args, " ")))

	cmd := exec.Command("go", args...)
	cmd.Dir = filepath.Dir(filename)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		remove(execfile)
		return "", errors.Wrapf(err, "go %s", strings.Join(args, " "))
	}
	return execfile, nil
}

func remove(path string) {
	logger.Debug("remove", zap.String("path", path))
	if err := os.Remove(path); err != nil {
		logger.Warn("remove", zap.String("path", path), zap.Error(err))
	}
}
