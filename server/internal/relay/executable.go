package relay

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/energytracker/energytracker/server/internal/config"
)

// Settings is the resolved calculator configuration one Relay run uses.
// A Settings value is immutable once handed to a Relay.
type Settings struct {
	// Path is the absolute path of the executable.
	Path string

	// Name is the file name as resolved, including any ".exe" suffix.
	Name string

	// Label names the process in error messages.
	Label string

	// Timeout kills the child when exceeded. Zero means no limit.
	Timeout time.Duration
}

// SettingsFromConfig resolves the calculator executable for the host OS.
func SettingsFromConfig(cfg *config.Config) Settings {
	path, name := Resolve(cfg.ExecutableDir(), cfg.Calculator.Name, runtime.GOOS)
	return Settings{
		Path:    path,
		Name:    name,
		Label:   cfg.Calculator.Label,
		Timeout: cfg.Calculator.Timeout,
	}
}

// Resolve joins dir and name into an absolute executable path. On Windows,
// when the plain name does not exist, the ".exe" suffixed name is returned
// instead. The returned name is the file name actually chosen.
func Resolve(dir, name, goos string) (path, resolvedName string) {
	path = absPath(filepath.Join(dir, name))
	if goos != "windows" || strings.EqualFold(filepath.Ext(name), ".exe") {
		return path, name
	}
	if _, err := os.Stat(path); err == nil {
		return path, name
	}
	name += ".exe"
	return absPath(filepath.Join(dir, name)), name
}

// absPath keeps the path anchored so exec never falls back to a $PATH lookup.
func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Found reports whether path names an existing regular file that looks
// runnable on this host.
func Found(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
