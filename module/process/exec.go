package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/onflow/quorumnet/module"
)

// ExecLauncher launches node binaries as child processes. Standard output and
// error are written to files in the node's data directory.
type ExecLauncher struct {
	log zerolog.Logger
}

var _ module.Launcher = (*ExecLauncher)(nil)

func NewExecLauncher(log zerolog.Logger) *ExecLauncher {
	return &ExecLauncher{log: log.With().Str("component", "exec_launcher").Logger()}
}

// Launch starts the binary. The process outlives ctx, it is terminated only
// through the returned Process.
func (l *ExecLauncher) Launch(_ context.Context, spec module.LaunchSpec) (module.Process, error) {
	if err := os.MkdirAll(spec.Dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create data directory %s: %w", spec.Dir, err)
	}
	stdout, err := os.Create(filepath.Join(spec.Dir, "stdout"))
	if err != nil {
		return nil, fmt.Errorf("could not create stdout file: %w", err)
	}
	stderr, err := os.Create(filepath.Join(spec.Dir, "stderr"))
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("could not create stderr file: %w", err)
	}

	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("could not start %s: %w", spec.Binary, err)
	}

	l.log.Debug().
		Str("node", spec.Name).
		Int("pid", cmd.Process.Pid).
		Strs("args", spec.Args).
		Msg("node process launched")

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		_ = stdout.Close()
		_ = stderr.Close()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
