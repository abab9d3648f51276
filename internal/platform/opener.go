package platform

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/italolelis/apphub_installer/internal/logctx"
)

// Opener hands a file or directory to the operating system, the way a user
// double-clicking it would.
type Opener interface {
	Open(ctx context.Context, path string) error
}

// SystemOpener runs the platform's "open" command. The child is not waited on:
// Open returns once the process has started.
type SystemOpener struct {
	goos string
}

func NewSystemOpener() *SystemOpener {
	return &SystemOpener{goos: runtime.GOOS}
}

func (o *SystemOpener) Open(ctx context.Context, path string) error {
	logger := logctx.LoggerFromContext(ctx)

	name, args, err := command(o.goos, path)
	if err != nil {
		return err
	}

	// not bound to ctx: the handed-off program must outlive the request
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to run %s: %w", name, err)
	}

	logger.DebugContext(ctx, "handed off to the system", "command", name, "path", path, "pid", cmd.Process.Pid)

	go func() {
		if err := cmd.Wait(); err != nil {
			logger.WarnContext(ctx, "system open command exited with error", "command", name, "path", path, "err", err)
		}
	}()

	return nil
}

func command(goos, path string) (string, []string, error) {
	switch goos {
	case "darwin":
		return "open", []string{path}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return "xdg-open", []string{path}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", path}, nil
	default:
		return "", nil, fmt.Errorf("opening files is not supported on %s", goos)
	}
}
