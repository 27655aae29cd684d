// Package agent runs on the remote machine. It keeps an outbound
// connection to the relay and runs one terminal process per browser that
// selects this machine.
package agent

import (
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/types"
)

// Sender delivers events to the relay.
type Sender interface {
	Send(ev types.Event) error
}

// Multiplexer maps browser ids to their terminal processes. It is safe for
// concurrent use: relay events arrive on the connection reader while
// process output and exits arrive on each process's reader goroutine.
type Multiplexer struct {
	spawner Spawner
	sender  Sender
	cols    uint16
	rows    uint16

	sessions *xsync.MapOf[string, *session]
}

// session is one spawned process. Its output is forwarded only while live
// is set, and kill clears live before killing the process.
type session struct {
	handle ProcessHandle

	mu   sync.Mutex
	live bool
}

func NewMultiplexer(spawner Spawner, sender Sender, cols, rows uint16) *Multiplexer {
	return &Multiplexer{
		spawner:  spawner,
		sender:   sender,
		cols:     cols,
		rows:     rows,
		sessions: xsync.NewMapOf[string, *session](),
	}
}

// HandleEvent applies one decoded relay event.
func (m *Multiplexer) HandleEvent(ev types.Event) {
	switch ev := ev.(type) {
	case types.CreateNewTerminal:
		_ = m.CreateSession(ev.BrowserID)
	case types.TerminalInput:
		m.Write(ev.BrowserID, ev.Data)
	case types.TerminalResize:
		m.Resize(ev.BrowserID, ev.Cols, ev.Rows)
	case types.CloseTerminal:
		m.DestroySession(ev.BrowserID)
	default:
		log.Warn().Str("event", string(ev.EventType())).Msg("ignoring unexpected event from relay")
	}
}

// CreateSession starts a process for browserID, replacing any process the
// browser already has. When the process cannot be started the browser is
// told through its output stream.
func (m *Multiplexer) CreateSession(browserID string) error {
	if old, ok := m.sessions.LoadAndDelete(browserID); ok {
		log.Debug().Str("browser_id", browserID).Msg("replacing existing terminal")
		m.kill(browserID, old)
	}

	sess := &session{live: true}
	handle, err := m.spawner.Spawn(SpawnRequest{
		Cols: m.cols,
		Rows: m.rows,
		Output: func(data string) {
			sess.mu.Lock()
			defer sess.mu.Unlock()
			if sess.live {
				m.emit(browserID, data)
			}
		},
	})
	if err != nil {
		log.Error().Err(err).Str("browser_id", browserID).Msg("failed to spawn terminal")
		m.emit(browserID, fmt.Sprintf("\r\nfailed to start terminal: %v\r\n", err))
		return err
	}
	sess.handle = handle

	m.sessions.Store(browserID, sess)
	go m.reap(browserID, sess, handle.Done())

	log.Info().Str("browser_id", browserID).Int("sessions", m.Count()).Msg("terminal created")
	return nil
}

// reap forgets the process once it exits, unless it has already been
// replaced or destroyed.
func (m *Multiplexer) reap(browserID string, sess *session, done <-chan struct{}) {
	<-done
	m.sessions.Compute(browserID, func(current *session, loaded bool) (*session, bool) {
		return current, !loaded || current == sess
	})
	log.Debug().Str("browser_id", browserID).Msg("terminal process exited")
}

func (m *Multiplexer) Write(browserID, data string) {
	sess, ok := m.sessions.Load(browserID)
	if !ok {
		log.Trace().Str("browser_id", browserID).Msg("no terminal for input, dropping")
		return
	}
	if err := sess.handle.Write(data); err != nil {
		log.Debug().Err(err).Str("browser_id", browserID).Msg("failed to write to terminal")
	}
}

func (m *Multiplexer) Resize(browserID string, cols, rows uint16) {
	sess, ok := m.sessions.Load(browserID)
	if !ok {
		return
	}
	if err := sess.handle.Resize(cols, rows); err != nil {
		log.Debug().Err(err).Str("browser_id", browserID).Msg("failed to resize terminal")
	}
}

// DestroySession kills the browser's process. Unknown ids are ignored.
func (m *Multiplexer) DestroySession(browserID string) {
	sess, ok := m.sessions.LoadAndDelete(browserID)
	if !ok {
		return
	}
	m.kill(browserID, sess)
	log.Info().Str("browser_id", browserID).Int("sessions", m.Count()).Msg("terminal closed")
}

// OnRelayDisconnect kills every process. The relay forgets all sessions when
// the connection drops, so none of them can be reached again.
func (m *Multiplexer) OnRelayDisconnect() {
	var ids []string
	m.sessions.Range(func(id string, _ *session) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if sess, ok := m.sessions.LoadAndDelete(id); ok {
			m.kill(id, sess)
		}
	}
	if len(ids) > 0 {
		log.Info().Int("killed", len(ids)).Msg("relay disconnected, terminals cleaned up")
	}
}

func (m *Multiplexer) Count() int {
	return m.sessions.Size()
}

func (m *Multiplexer) kill(browserID string, sess *session) {
	sess.mu.Lock()
	sess.live = false
	sess.mu.Unlock()

	if err := sess.handle.Kill(); err != nil {
		log.Debug().Err(err).Str("browser_id", browserID).Msg("failed to kill terminal")
	}
}

func (m *Multiplexer) emit(browserID, data string) {
	err := m.sender.Send(types.TerminalOutput{BrowserID: browserID, Data: data})
	if err != nil {
		log.Trace().Err(err).Str("browser_id", browserID).Msg("dropping terminal output")
	}
}
