package transaction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aept-project/aept/internal/config"
	"github.com/aept-project/aept/internal/pathsafety"
	"github.com/aept-project/aept/internal/procrun"
)

// onDiskPath resolves an archive-relative list path (e.g. "./etc/foo.conf")
// to the absolute on-disk path it was actually extracted to: the same
// pathsafety.SafeJoin computation archive.ExtractAll uses internally,
// rooted at cfg.RootPath("/"). Returns "" if archivePath fails SafeJoin
// (it shouldn't, since it was already validated once during extraction).
func onDiskPath(cfg *config.Config, archivePath string) string {
	resolved, ok, _ := pathsafety.SafeJoin(cfg.RootPath("/"), archivePath)
	if !ok {
		return ""
	}
	return resolved
}

// ErrScriptFailed wraps a maintainer script's nonzero exit, letting callers
// distinguish "the script ran and refused" from a setup/exec error.
type ErrScriptFailed struct {
	Script string
	Action string
	Code   int
}

func (e *ErrScriptFailed) Error() string {
	return fmt.Sprintf("transaction: %s %s exited %d", e.Script, e.Action, e.Code)
}

// mkStepTmpDir creates a fresh extraction directory for one step. When
// OfflineRoot is set, the directory is created under the offline root's
// view of TmpDir so that a preinst/prerm invoked via SystemOfflineRoot
// (which chroots into OfflineRoot before exec) can still see it: hostDir is
// the real filesystem path this process uses for archive extraction,
// chrootDir is the same location as it appears from inside the chroot,
// i.e. with the OfflineRoot prefix stripped. Outside offline-root mode
// they're identical.
func mkStepTmpDir(cfg *config.Config) (hostDir, chrootDir string, err error) {
	base := cfg.RootPath(cfg.TmpDir)
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", "", fmt.Errorf("transaction: mkdir %s: %w", base, err)
	}
	hostDir, err = os.MkdirTemp(base, "aept-")
	if err != nil {
		return "", "", fmt.Errorf("transaction: mkdtemp under %s: %w", base, err)
	}
	return hostDir, chrootRel(cfg, hostDir), nil
}

// chrootRel converts a host-side path under cfg.OfflineRoot into the path
// as seen from inside a chroot(OfflineRoot) process. Outside offline-root
// mode it is the identity.
func chrootRel(cfg *config.Config, hostPath string) string {
	if cfg.OfflineRoot == "" {
		return hostPath
	}
	rel := strings.TrimPrefix(hostPath, cfg.OfflineRoot)
	if rel == "" {
		return "/"
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return rel
}

func readFileString(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}

// scriptSet holds the four maintainer scripts' source text, keyed by their
// bare name (preinst, postinst, prerm, postrm).
type scriptSet map[string]string

// readScripts reads the four maintainer script files out of a control
// archive's extraction directory, where present.
func readScripts(dir string) scriptSet {
	s := make(scriptSet)
	for _, name := range []string{"preinst", "postinst", "prerm", "postrm"} {
		if content := readFileString(filepath.Join(dir, name)); content != "" {
			s[name] = content
		}
	}
	return s
}

// runScript runs a maintainer script if present at hostPath, via
// procrun.SystemOfflineRoot so its view of the filesystem matches what it
// was installed against. chrootPath is hostPath as seen from inside the
// offline-root chroot (see chrootRel). Returns (false, nil) if the script
// is absent — callers treat that as a no-op, not a failure.
func runScript(ctx context.Context, cfg *config.Config, hostPath, chrootPath, action string) (ran bool, err error) {
	if _, statErr := os.Stat(hostPath); statErr != nil {
		return false, nil
	}
	argv := append([]string{chrootPath}, strings.Fields(action)...)
	res, err := procrun.SystemOfflineRoot(ctx, argv, cfg.OfflineRoot)
	if err != nil {
		return true, fmt.Errorf("transaction: run %s: %w", chrootPath, err)
	}
	if res.ExitCode != 0 {
		return true, &ErrScriptFailed{Script: chrootPath, Action: action, Code: res.ExitCode}
	}
	return true, nil
}
