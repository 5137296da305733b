package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"conduit/internal/logging"
	"conduit/internal/protocol"
	"conduit/internal/reactor"
)

const killGrace = 5 * time.Second

// CommandFunc builds the job process for a component.
type CommandFunc func(avatarID, typ string) *exec.Cmd

// JobCommand runs `binary job` against the job heaven socket.
func JobCommand(binary, socket, configPath string) CommandFunc {
	return func(avatarID, _ string) *exec.Cmd {
		args := []string{"job", "--socket", socket, "--avatar-id", avatarID}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		return exec.Command(binary, args...)
	}
}

// Kid is one job process.
type Kid struct {
	AvatarID string
	Type     string
	PID      int
	Started  time.Time
}

// ExitFunc observes a reaped kid.
type ExitFunc func(kid Kid, err error)

// Kindergarten runs job processes in their own process groups and reaps
// them. Its methods run on the brain's loop.
type Kindergarten struct {
	loop    *reactor.Loop
	logger  *slog.Logger
	command CommandFunc
	kids    map[string]Kid
	onExit  []ExitFunc
}

// NewKindergarten returns an empty kindergarten spawning with command.
func NewKindergarten(loop *reactor.Loop, command CommandFunc, logger *slog.Logger) *Kindergarten {
	return &Kindergarten{
		loop:    loop,
		logger:  logging.NewComponentLogger(logger, "kindergarten"),
		command: command,
		kids:    make(map[string]Kid),
	}
}

// OnExit registers fn to run on the loop when a kid is reaped.
func (k *Kindergarten) OnExit(fn ExitFunc) {
	k.onExit = append(k.onExit, fn)
}

// Play spawns the job for avatarID.
func (k *Kindergarten) Play(avatarID, typ string) (Kid, error) {
	if kid, exists := k.kids[avatarID]; exists {
		return Kid{}, fmt.Errorf("%w: %s already runs as pid %d", ErrComponentStart, avatarID, kid.PID)
	}
	cmd := k.command(avatarID, typ)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stderr
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return Kid{}, fmt.Errorf("spawn job for %s: %w", avatarID, err)
	}
	kid := Kid{AvatarID: avatarID, Type: typ, PID: cmd.Process.Pid, Started: time.Now()}
	k.kids[avatarID] = kid
	k.logger.Info("job started",
		logging.String(logging.FieldAvatarID, avatarID),
		logging.Int("pid", kid.PID),
		logging.String("path", cmd.Path),
	)
	go func() {
		err := cmd.Wait()
		k.loop.Post(func() { k.RemoveKidByPid(kid.PID, err) })
	}()
	return kid, nil
}

// RemoveKidByPid forgets the kid with pid and runs the exit hooks.
func (k *Kindergarten) RemoveKidByPid(pid int, err error) bool {
	for id, kid := range k.kids {
		if kid.PID != pid {
			continue
		}
		delete(k.kids, id)
		if err != nil {
			logging.WarnWithContext(k.logger, "job exited", "job_exited",
				logging.String(logging.FieldAvatarID, id),
				logging.Int("pid", pid),
				logging.Error(err),
				logging.String(logging.FieldImpact, "component is no longer running on this worker"),
				logging.String(logging.FieldErrorHint, "check the job output above for the cause"),
			)
		} else {
			k.logger.Info("job exited", logging.String(logging.FieldAvatarID, id), logging.Int("pid", pid))
		}
		for _, fn := range k.onExit {
			fn(kid, err)
		}
		return true
	}
	return false
}

// Get returns the kid for avatarID.
func (k *Kindergarten) Get(avatarID string) (Kid, bool) {
	kid, ok := k.kids[avatarID]
	return kid, ok
}

// Kids lists the running jobs sorted by avatar id.
func (k *Kindergarten) Kids() []protocol.Kid {
	out := make([]protocol.Kid, 0, len(k.kids))
	for _, id := range slices.Sorted(maps.Keys(k.kids)) {
		kid := k.kids[id]
		out = append(out, protocol.Kid{AvatarID: kid.AvatarID, Type: kid.Type, PID: kid.PID, Started: kid.Started})
	}
	return out
}

func (k *Kindergarten) Len() int { return len(k.kids) }

// Terminate signals the process group of the kid for avatarID.
func (k *Kindergarten) Terminate(avatarID string) error {
	kid, ok := k.kids[avatarID]
	if !ok {
		return fmt.Errorf("no job for %s", avatarID)
	}
	return signalGroup(kid.PID, unix.SIGTERM)
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Shutdown terminates every kid and waits for them to be reaped. Kids still
// running once ctx ends, or after a grace period, are killed. Call it off the
// loop.
func (k *Kindergarten) Shutdown(ctx context.Context) error {
	var pids []int
	if err := k.loop.Call(ctx, func() {
		for _, kid := range k.kids {
			pids = append(pids, kid.PID)
		}
	}); err != nil {
		return err
	}
	for _, pid := range pids {
		if err := signalGroup(pid, unix.SIGTERM); err != nil {
			k.logger.Debug("terminate job", logging.Int("pid", pid), logging.Error(err))
		}
	}

	grace := time.NewTimer(killGrace)
	defer grace.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		var left int
		if err := k.loop.Call(ctx, func() { left = len(k.kids) }); err != nil {
			left = -1
		}
		if left == 0 {
			return nil
		}
		select {
		case <-ticker.C:
			continue
		case <-grace.C:
		case <-ctx.Done():
		}
		for _, pid := range pids {
			_ = signalGroup(pid, unix.SIGKILL)
		}
		return fmt.Errorf("jobs killed after shutdown grace: %d", len(pids))
	}
}
