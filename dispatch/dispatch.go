// Package dispatch runs the external helper programs: connection up/down
// notification scripts, the one-shot FCC unlock sequence and per-vendor
// modem setup. Candidates are validated before execution and killed on
// timeout.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/linux-mobile-broadband/modemd/core"
)

// OperationTimeout bounds each helper invocation.
const OperationTimeout = 5 * time.Second

// Runner locates and executes helper scripts. Scripts are searched in the
// sysconf directory first so user-installed helpers shadow vendor ones.
type Runner struct {
	// SysconfDir holds user-installed helpers.
	SysconfDir string
	// LibDir holds vendor-installed helpers.
	LibDir string
	// Timeout overrides OperationTimeout when non-zero.
	Timeout time.Duration

	Logger zerolog.Logger
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return OperationTimeout
}

func (r *Runner) log() *zerolog.Logger {
	l := r.Logger.With().Str("comp", "dispatch").Logger()
	return &l
}

// validateFile enforces the execution policy on one candidate: a regular
// file (or a symlink to one that is not /dev/null), owned by root, not
// group- or world-writable, not setuid, with owner-execute set.
func validateFile(path string) error {
	linkInfo, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if linkInfo.Mode()&os.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(path)
		if err != nil {
			return err
		}
		if target == os.DevNull {
			return fmt.Errorf("%s resolves to %s", path, os.DevNull)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok || stat.Uid != 0 {
		return fmt.Errorf("%s is not owned by root", path)
	}
	mode := info.Mode()
	if mode&0o022 != 0 {
		return fmt.Errorf("%s is group- or world-writable", path)
	}
	if mode&os.ModeSetuid != 0 {
		return fmt.Errorf("%s is set-UID", path)
	}
	if mode&0o100 == 0 {
		return fmt.Errorf("%s lacks owner-execute permission", path)
	}
	return nil
}

// candidates lists validated scripts named name under both directories,
// sysconf first. Failing files are skipped with a log entry.
func (r *Runner) candidates(name string) []string {
	var out []string
	for _, dir := range []string{r.SysconfDir, r.LibDir} {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name)
		if _, err := os.Lstat(path); err != nil {
			continue
		}
		if err := validateFile(path); err != nil {
			r.log().Warn().Err(err).Str("path", path).Msg("skipping invalid helper")
			continue
		}
		out = append(out, path)
	}
	return out
}

// runScript executes one validated script with a curated argv, enforcing
// the per-operation timeout. Success is exit status zero, nothing else.
func (r *Runner) runScript(ctx context.Context, path string, argv []string) error {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, argv...)
	cmd.Env = []string{} // helpers get no ambient environment
	out, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return core.Newf(core.KindDispatcherFailed, "%s timed out", path)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				return core.Newf(core.KindDispatcherFailed, "%s killed by signal %s", path, status.Signal())
			}
			return core.Newf(core.KindDispatcherFailed, "%s exited %d: %s", path, exitErr.ExitCode(), out)
		}
		return core.Newf(core.KindDispatcherFailed, "%s: %v", path, err)
	}
	return nil
}

// RunConnection notifies every connection dispatcher script of a bearer
// event. The overall operation succeeds iff at least one script ran and
// none failed.
func (r *Runner) RunConnection(ctx context.Context, event, modemPath, bearerPath, iface string) error {
	scripts := r.candidates("connection")
	ran, failed := 0, 0
	for _, path := range scripts {
		if err := r.runScript(ctx, path, []string{modemPath, bearerPath, iface, event}); err != nil {
			r.log().Warn().Err(err).Str("path", path).Msg("connection dispatcher failed")
			failed++
			continue
		}
		ran++
	}
	if failed > 0 || ran == 0 {
		return core.Newf(core.KindDispatcherFailed,
			"connection dispatchers: %d ran, %d failed", ran, failed)
	}
	return nil
}

// RunFccUnlock executes the per-vendor FCC unlock helper for the device,
// named <vid>:<pid> under an fcc-unlock.d directory. The first validated
// script wins.
func (r *Runner) RunFccUnlock(ctx context.Context, vid, pid uint16, devicePath string, portNames []string) error {
	name := filepath.Join("fcc-unlock.d", fmt.Sprintf("%04x:%04x", vid, pid))
	scripts := r.candidates(name)
	if len(scripts) == 0 {
		return core.Newf(core.KindNotFound, "no FCC unlock helper for %04x:%04x", vid, pid)
	}
	argv := append([]string{devicePath}, portNames...)
	return r.runScript(ctx, scripts[0], argv)
}

// RunModemSetup executes the per-vendor modem setup helper, mirroring the
// FCC unlock contract under modem-setup.d.
func (r *Runner) RunModemSetup(ctx context.Context, vid, pid uint16, devicePath string, portNames []string) error {
	name := filepath.Join("modem-setup.d", fmt.Sprintf("%04x:%04x", vid, pid))
	scripts := r.candidates(name)
	if len(scripts) == 0 {
		return core.Newf(core.KindNotFound, "no modem setup helper for %04x:%04x", vid, pid)
	}
	argv := append([]string{devicePath}, portNames...)
	return r.runScript(ctx, scripts[0], argv)
}
