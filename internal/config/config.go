// Package config loads and validates aept's line-based configuration file,
// applies the offline-root path rewrite, and holds the advisory process
// lock.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Source is a configured repository.
type Source struct {
	Name string
	URL  string
	Gzip bool
}

// Config holds aept's runtime configuration.
type Config struct {
	OfflineRoot string

	InfoDir      string
	ListsDir     string
	StatusFile   string
	CacheDir     string
	TmpDir       string
	LockFile     string
	AutoFile     string
	PinFile      string
	UsignKeydir  string

	CheckSignature bool
	IgnoreUID      bool
	AllowDowngrade bool

	Sources []Source
	Archs   []string

	lock *Lock
}

// Default returns a Config populated with aept's built-in defaults.
func Default() *Config {
	return &Config{
		InfoDir:        "/var/lib/aept/info",
		ListsDir:       "/var/lib/aept/lists",
		StatusFile:     "/var/lib/aept/status",
		CacheDir:       "/var/cache/aept",
		TmpDir:         "/tmp",
		LockFile:       "/var/lib/aept/lock",
		AutoFile:       "/var/lib/aept/auto-installed",
		PinFile:        "/var/lib/aept/pinned-packages",
		UsignKeydir:    "/etc/aept/usign/trustdb",
		CheckSignature: true,
	}
}

// Load reads a config file in the directive format:
//
//	# comment
//	src/gz <name> <url>
//	src <name> <url>
//	option <key> <value>
//	arch <name>
//
// Unknown directives and over-long lines are warned about (via warn) and
// skipped, not treated as fatal errors.
func Load(path string, warn func(string)) (*Config, error) {
	if warn == nil {
		warn = func(string) {}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg := Default()

	const maxLineLen = 4096
	reader := bufio.NewReader(f)

	lineNo := 0
	for {
		raw, readErr := reader.ReadString('\n')
		if raw == "" && readErr != nil {
			if readErr == io.EOF {
				break
			}
			return nil, fmt.Errorf("config: read %s: %w", path, readErr)
		}
		lineNo++
		if len(strings.TrimRight(raw, "\r\n")) > maxLineLen {
			warn(fmt.Sprintf("%s:%d: line too long", path, lineNo))
			continue
		}
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "src/gz":
			if len(fields) != 3 {
				warn(fmt.Sprintf("%s:%d: malformed src/gz directive", path, lineNo))
				continue
			}
			cfg.addSource(fields[1], fields[2], true)
		case "src":
			if len(fields) != 3 {
				warn(fmt.Sprintf("%s:%d: malformed src directive", path, lineNo))
				continue
			}
			cfg.addSource(fields[1], fields[2], false)
		case "option":
			if len(fields) < 3 {
				warn(fmt.Sprintf("%s:%d: malformed option directive", path, lineNo))
				continue
			}
			cfg.setOption(fields[1], strings.Join(fields[2:], " "), warn)
		case "arch":
			if len(fields) != 2 {
				warn(fmt.Sprintf("%s:%d: malformed arch directive", path, lineNo))
				continue
			}
			cfg.addArch(fields[1])
		default:
			warn(fmt.Sprintf("%s:%d: unknown directive %q", path, lineNo, fields[0]))
		}
	}

	return cfg, nil
}

func (c *Config) addSource(name, url string, gzip bool) {
	// Duplicate sources are appended, not merged.
	c.Sources = append(c.Sources, Source{Name: name, URL: url, Gzip: gzip})
}

func (c *Config) addArch(name string) {
	for _, a := range c.Archs {
		if a == name {
			return
		}
	}
	c.Archs = append(c.Archs, name)
}

// setOption maps a string key to the matching Config field. Unrecognized
// keys warn and are skipped, not treated as an error.
func (c *Config) setOption(key, value string, warn func(string)) {
	switch key {
	case "offline_root":
		c.OfflineRoot = value
	case "info_dir":
		c.InfoDir = value
	case "lists_dir":
		c.ListsDir = value
	case "status_file":
		c.StatusFile = value
	case "cache_dir":
		c.CacheDir = value
	case "tmp_dir":
		c.TmpDir = value
	case "lock_file":
		c.LockFile = value
	case "usign_keydir":
		c.UsignKeydir = value
	case "auto_file":
		c.AutoFile = value
	case "pin_file":
		c.PinFile = value
	case "check_signature":
		c.CheckSignature = value != "0"
	case "ignore_uid":
		c.IgnoreUID = value != "0"
	case "allow_downgrade":
		c.AllowDowngrade = value != "0"
	default:
		warn(fmt.Sprintf("unknown option %q", key))
	}
}

// ApplyOfflineRoot prepends OfflineRoot to lists_dir, cache_dir, info_dir,
// status_file, lock_file, auto_file, and pin_file. tmp_dir is left alone and
// resolved per use via RootPath. Idempotent: calling it twice in a row with
// the same OfflineRoot has no further effect.
func (c *Config) ApplyOfflineRoot() {
	if c.OfflineRoot == "" {
		return
	}
	rewrite := func(p *string) {
		if !strings.HasPrefix(*p, c.OfflineRoot) {
			*p = filepath.Join(c.OfflineRoot, *p)
		}
	}
	rewrite(&c.ListsDir)
	rewrite(&c.CacheDir)
	rewrite(&c.InfoDir)
	rewrite(&c.StatusFile)
	rewrite(&c.LockFile)
	rewrite(&c.AutoFile)
	rewrite(&c.PinFile)
}

// RootPath joins OfflineRoot onto an absolute filesystem path, the
// on-demand counterpart to ApplyOfflineRoot used when resolving paths that
// are not part of the config struct itself (e.g. a conffile's absolute
// path).
func (c *Config) RootPath(path string) string {
	if c.OfflineRoot == "" {
		return path
	}
	return filepath.Join(c.OfflineRoot, path)
}

// Validate checks the structural requirements on the configuration: if set,
// OfflineRoot must exist and be a directory; each of InfoDir, ListsDir,
// CacheDir, TmpDir, UsignKeydir must be either absent or a directory.
func (c *Config) Validate() error {
	if c.OfflineRoot != "" {
		if err := mustBeDir(c.OfflineRoot); err != nil {
			return fmt.Errorf("config: offline_root: %w", err)
		}
	}
	for _, p := range []string{c.InfoDir, c.ListsDir, c.CacheDir, c.TmpDir, c.UsignKeydir} {
		if p == "" {
			continue
		}
		if err := mustBeDirIfPresent(p); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

func mustBeDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

func mustBeDirIfPresent(path string) error {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", path)
	}
	return nil
}

// ErrLockContended is returned by Lock when another instance already
// holds the lock.
var ErrLockContended = errors.New("another instance is running")

// Lock is a held advisory file lock.
type Lock struct {
	f *os.File
}

// Lock creates the lock file's parent directory (mode 0755), opens the
// lock file O_CREAT|O_RDWR mode 0644, and takes an exclusive, non-blocking
// flock. Returns ErrLockContended on EWOULDBLOCK.
func (c *Config) Lock() (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(c.LockFile), 0755); err != nil {
		return nil, fmt.Errorf("config: lock: mkdir: %w", err)
	}

	f, err := os.OpenFile(c.LockFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("config: lock: open: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLockContended
		}
		return nil, fmt.Errorf("config: lock: flock: %w", err)
	}

	l := &Lock{f: f}
	c.lock = l
	return l, nil
}

// Unlock releases and closes the lock.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	cerr := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("config: unlock: %w", err)
	}
	return cerr
}

// ParseBoolOption parses a 0/1 option value the way setOption does,
// exposed for callers that need the same semantics outside the line parser.
func ParseBoolOption(v string) bool {
	n, err := strconv.Atoi(v)
	if err != nil {
		return v != "0" && v != ""
	}
	return n != 0
}
