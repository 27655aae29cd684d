package agent

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"unicode/utf8"

	"github.com/creack/pty"
	"github.com/rs/zerolog/log"
)

// PTYSpawner starts an interactive shell attached to a pseudo terminal.
type PTYSpawner struct {
	Shell string
	Term  string
	// Dir is the working directory of new shells. Empty means the user's
	// home directory.
	Dir string
}

var _ Spawner = &PTYSpawner{}

func (s *PTYSpawner) Spawn(req SpawnRequest) (ProcessHandle, error) {
	dir := s.Dir
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = home
		}
	}

	cmd := exec.Command(s.Shell)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM="+s.Term)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: req.Cols, Rows: req.Rows})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", s.Shell, err)
	}

	h := &ptyHandle{
		cmd:  cmd,
		pty:  ptmx,
		done: make(chan struct{}),
	}
	go h.readLoop(req.Output)

	log.Debug().Str("shell", s.Shell).Int("pid", cmd.Process.Pid).Msg("shell started")
	return h, nil
}

type ptyHandle struct {
	cmd *exec.Cmd
	pty *os.File

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (h *ptyHandle) Write(data string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err := io.WriteString(h.pty, data)
	return err
}

func (h *ptyHandle) Resize(cols, rows uint16) error {
	return pty.Setsize(h.pty, &pty.Winsize{Cols: cols, Rows: rows})
}

func (h *ptyHandle) Kill() error {
	err := h.cmd.Process.Kill()
	h.closePTY()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (h *ptyHandle) Done() <-chan struct{} {
	return h.done
}

func (h *ptyHandle) closePTY() {
	h.closeOnce.Do(func() {
		_ = h.pty.Close()
	})
}

func (h *ptyHandle) readLoop(output func(string)) {
	defer close(h.done)

	buf := make([]byte, 4096)
	var pending []byte
	for {
		n, err := h.pty.Read(buf)
		if n > 0 {
			complete, rest := splitIncompleteRune(append(pending, buf[:n]...))
			if len(complete) > 0 {
				output(string(complete))
			}
			pending = append([]byte(nil), rest...)
		}
		if err != nil {
			// EIO once the shell exits, or a closed file after Kill
			break
		}
	}
	if len(pending) > 0 {
		output(string(pending))
	}

	err := h.cmd.Wait()
	h.closePTY()
	log.Debug().Err(err).Int("pid", h.cmd.Process.Pid).Msg("shell exited")
}

// splitIncompleteRune splits b before a UTF-8 sequence that was cut off at
// the end of a read, so multi-byte characters are never split across two
// output events.
func splitIncompleteRune(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i], b[i:]
		}
		break
	}
	return b, nil
}
