package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/pubsub"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/types"
)

type recordingConn struct {
	id     string
	mu     sync.Mutex
	events []types.Event
}

func newConn(id string) *recordingConn {
	return &recordingConn{id: id}
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(ev types.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Events() []types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *recordingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func eventsOf[T types.Event](c *recordingConn) []T {
	var out []T
	for _, ev := range c.Events() {
		if typed, ok := ev.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

func lastPCList(t *testing.T, c *recordingConn) []string {
	lists := eventsOf[types.PCList](c)
	require.NotEmpty(t, lists, "no pc list received by %s", c.id)
	return lists[len(lists)-1].Names
}

func connectBrowser(r *Router, id string) *recordingConn {
	conn := newConn(id)
	r.handleBrowserConnect(conn)
	return conn
}

func registerAgent(r *Router, connID, name string) *recordingConn {
	conn := newConn(connID)
	r.handleAgentEvent(conn, types.AgentRegister{Name: name})
	return conn
}

func TestRouter_NewBrowserReceivesDirectorySnapshot(t *testing.T) {
	r := New(Options{})
	registerAgent(r, "agt_1", "X")
	registerAgent(r, "agt_2", "Y")

	b1 := connectBrowser(r, "brw_1")

	assert.Equal(t, []types.Event{types.PCList{Names: []string{"X", "Y"}}}, b1.Events())
}

func TestRouter_DirectoryBroadcastTracksRegistrations(t *testing.T) {
	r := New(Options{})
	b1 := connectBrowser(r, "brw_1")
	assert.Equal(t, []string{}, lastPCList(t, b1))

	a := registerAgent(r, "agt_a", "a")
	assert.Equal(t, []string{"a"}, lastPCList(t, b1))

	b := registerAgent(r, "agt_b", "b")
	assert.Equal(t, []string{"a", "b"}, lastPCList(t, b1))

	registerAgent(r, "agt_c", "c")
	assert.Equal(t, []string{"a", "b", "c"}, lastPCList(t, b1))

	r.handleAgentDisconnect(b)
	assert.Equal(t, []string{"a", "c"}, lastPCList(t, b1))

	r.handleAgentDisconnect(a)
	assert.Equal(t, []string{"c"}, lastPCList(t, b1))

	// every change produced exactly one broadcast
	assert.Len(t, eventsOf[types.PCList](b1), 6)
}

func TestRouter_Scenario(t *testing.T) {
	r := New(Options{})
	b1 := connectBrowser(r, "brw_1")
	b2 := connectBrowser(r, "brw_2")

	x := registerAgent(r, "agt_x", "X")
	assert.Equal(t, []string{"X"}, lastPCList(t, b1))
	assert.Equal(t, []string{"X"}, lastPCList(t, b2))

	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})
	assert.Equal(t, []types.PCSelectedAck{{Name: "X"}}, eventsOf[types.PCSelectedAck](b1))
	assert.Equal(t, []types.CreateNewTerminal{{BrowserID: "brw_1"}}, eventsOf[types.CreateNewTerminal](x))

	r.handleBrowserEvent("brw_1", types.TerminalInput{Data: "ls\n"})
	assert.Equal(t, []types.TerminalInput{{BrowserID: "brw_1", Data: "ls\n"}}, eventsOf[types.TerminalInput](x))

	r.handleAgentEvent(x, types.TerminalOutput{BrowserID: "brw_1", Data: "file.txt\n"})
	assert.Equal(t, []types.TerminalOutput{{Data: "file.txt\n"}}, eventsOf[types.TerminalOutput](b1))
	assert.Empty(t, eventsOf[types.TerminalOutput](b2))
}

func TestRouter_SelectUnknownAgent(t *testing.T) {
	r := New(Options{})
	x := registerAgent(r, "agt_x", "X")
	b1 := connectBrowser(r, "brw_1")

	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "missing"})

	assert.Equal(t, []types.PCSelectError{{Message: "Agent 'missing' is not connected."}}, eventsOf[types.PCSelectError](b1))
	assert.Empty(t, eventsOf[types.PCSelectedAck](b1))
	assert.Empty(t, eventsOf[types.CreateNewTerminal](x))

	_, attached := r.browsers.CurrentAgent("brw_1")
	assert.False(t, attached)

	agent, _ := r.agents.Get("X")
	assert.Empty(t, agent.Sessions())
}

func TestRouter_FailedSelectKeepsExistingSession(t *testing.T) {
	r := New(Options{})
	x := registerAgent(r, "agt_x", "X")
	connectBrowser(r, "brw_1")
	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})

	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "missing"})

	name, ok := r.browsers.CurrentAgent("brw_1")
	require.True(t, ok)
	assert.Equal(t, "X", name)
	assert.Empty(t, eventsOf[types.CloseTerminal](x))
}

func TestRouter_InputIsForwardedInOrder(t *testing.T) {
	r := New(Options{})
	x := registerAgent(r, "agt_x", "X")
	connectBrowser(r, "brw_1")
	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})

	r.handleBrowserEvent("brw_1", types.TerminalResize{Cols: 120, Rows: 40})
	for i := 0; i < 5; i++ {
		r.handleBrowserEvent("brw_1", types.TerminalInput{Data: fmt.Sprintf("echo %d\n", i)})
	}

	events := x.Events()
	require.Len(t, events, 7)
	assert.Equal(t, types.CreateNewTerminal{BrowserID: "brw_1"}, events[0])
	assert.Equal(t, types.TerminalResize{BrowserID: "brw_1", Cols: 120, Rows: 40}, events[1])
	for i := 0; i < 5; i++ {
		assert.Equal(t, types.TerminalInput{BrowserID: "brw_1", Data: fmt.Sprintf("echo %d\n", i)}, events[i+2])
	}
}

func TestRouter_BrowserCannotSpoofBrowserID(t *testing.T) {
	r := New(Options{})
	x := registerAgent(r, "agt_x", "X")
	connectBrowser(r, "brw_1")
	connectBrowser(r, "brw_2")
	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})

	r.handleBrowserEvent("brw_1", types.TerminalInput{BrowserID: "brw_2", Data: "whoami\n"})

	assert.Equal(t, []types.TerminalInput{{BrowserID: "brw_1", Data: "whoami\n"}}, eventsOf[types.TerminalInput](x))
}

func TestRouter_InputWithoutSelectionIsDropped(t *testing.T) {
	r := New(Options{})
	x := registerAgent(r, "agt_x", "X")
	b1 := connectBrowser(r, "brw_1")
	b1.Reset()

	r.handleBrowserEvent("brw_1", types.TerminalInput{Data: "ls\n"})
	r.handleBrowserEvent("brw_1", types.TerminalResize{Cols: 80, Rows: 24})

	assert.Empty(t, x.Events())
	assert.Empty(t, b1.Events(), "dropped input is not surfaced to the browser")
}

func TestRouter_CloseTerminal(t *testing.T) {
	r := New(Options{})
	x := registerAgent(r, "agt_x", "X")
	b1 := connectBrowser(r, "brw_1")
	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})

	r.handleBrowserEvent("brw_1", types.CloseTerminal{})

	assert.Equal(t, []types.CloseTerminal{{BrowserID: "brw_1"}}, eventsOf[types.CloseTerminal](x))
	assert.Equal(t, []types.CloseTerminalAck{{}}, eventsOf[types.CloseTerminalAck](b1))
	_, attached := r.browsers.CurrentAgent("brw_1")
	assert.False(t, attached)

	// output that was already in flight is not delivered
	r.handleAgentEvent(x, types.TerminalOutput{BrowserID: "brw_1", Data: "late\n"})
	assert.Empty(t, eventsOf[types.TerminalOutput](b1))

	// input after close goes nowhere
	r.handleBrowserEvent("brw_1", types.TerminalInput{Data: "ls\n"})
	assert.Empty(t, eventsOf[types.TerminalInput](x))

	// closing again only acknowledges
	r.handleBrowserEvent("brw_1", types.CloseTerminal{})
	assert.Len(t, eventsOf[types.CloseTerminal](x), 1)
	assert.Len(t, eventsOf[types.CloseTerminalAck](b1), 2)
}

func TestRouter_BrowserDisconnectClosesAgentSessionOnce(t *testing.T) {
	r := New(Options{})
	x := registerAgent(r, "agt_x", "X")
	connectBrowser(r, "brw_1")
	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})

	r.handleBrowserDisconnect("brw_1")
	r.handleBrowserDisconnect("brw_1")

	assert.Equal(t, []types.CloseTerminal{{BrowserID: "brw_1"}}, eventsOf[types.CloseTerminal](x))
	agent, _ := r.agents.Get("X")
	assert.Empty(t, agent.Sessions())

	r.handleAgentEvent(x, types.TerminalOutput{BrowserID: "brw_1", Data: "gone\n"})
}

func TestRouter_UnattachedBrowserDisconnectSendsNothing(t *testing.T) {
	r := New(Options{})
	x := registerAgent(r, "agt_x", "X")
	connectBrowser(r, "brw_1")

	r.handleBrowserDisconnect("brw_1")

	assert.Empty(t, x.Events())
}

func TestRouter_TwoBrowsersOnOneAgentGetIndependentStreams(t *testing.T) {
	r := New(Options{})
	x := registerAgent(r, "agt_x", "X")
	b1 := connectBrowser(r, "brw_1")
	b2 := connectBrowser(r, "brw_2")
	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})
	r.handleBrowserEvent("brw_2", types.SelectPC{Name: "X"})

	r.handleAgentEvent(x, types.TerminalOutput{BrowserID: "brw_1", Data: "for one"})
	r.handleAgentEvent(x, types.TerminalOutput{BrowserID: "brw_2", Data: "for two"})
	r.handleAgentEvent(x, types.TerminalOutput{BrowserID: "brw_1", Data: "again one"})

	assert.Equal(t, []types.TerminalOutput{{Data: "for one"}, {Data: "again one"}}, eventsOf[types.TerminalOutput](b1))
	assert.Equal(t, []types.TerminalOutput{{Data: "for two"}}, eventsOf[types.TerminalOutput](b2))

	agent, _ := r.agents.Get("X")
	assert.ElementsMatch(t, []string{"brw_1", "brw_2"}, agent.Sessions())
}

func TestRouter_OutputFromAnotherAgentIsDropped(t *testing.T) {
	r := New(Options{})
	registerAgent(r, "agt_x", "X")
	y := registerAgent(r, "agt_y", "Y")
	b1 := connectBrowser(r, "brw_1")
	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})

	r.handleAgentEvent(y, types.TerminalOutput{BrowserID: "brw_1", Data: "intruder"})

	assert.Empty(t, eventsOf[types.TerminalOutput](b1))
}

func TestRouter_DuplicateRegistrationRoutesToNewest(t *testing.T) {
	r := New(Options{})
	b1 := connectBrowser(r, "brw_1")
	old := registerAgent(r, "agt_old", "X")
	newer := registerAgent(r, "agt_new", "X")

	assert.Equal(t, []string{"X"}, lastPCList(t, b1))

	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})
	r.handleBrowserEvent("brw_1", types.TerminalInput{Data: "ls\n"})

	assert.Empty(t, old.Events())
	assert.Equal(t, []types.TerminalInput{{BrowserID: "brw_1", Data: "ls\n"}}, eventsOf[types.TerminalInput](newer))

	r.handleAgentEvent(old, types.TerminalOutput{BrowserID: "brw_1", Data: "stale"})
	r.handleAgentEvent(newer, types.TerminalOutput{BrowserID: "brw_1", Data: "fresh"})
	assert.Equal(t, []types.TerminalOutput{{Data: "fresh"}}, eventsOf[types.TerminalOutput](b1))

	// the replaced connection dropping does not remove the newer agent
	broadcasts := len(eventsOf[types.PCList](b1))
	r.handleAgentDisconnect(old)
	assert.Len(t, eventsOf[types.PCList](b1), broadcasts)
	conn, ok := r.agents.Lookup("X")
	require.True(t, ok)
	assert.Equal(t, newer.ID(), conn.ID())
}

func TestRouter_AgentDisconnectLeavesBrowsersSilentlyAttached(t *testing.T) {
	r := New(Options{})
	x := registerAgent(r, "agt_x", "X")
	b1 := connectBrowser(r, "brw_1")
	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})
	b1.Reset()
	agent, ok := r.agents.Get("X")
	require.True(t, ok)
	assert.Equal(t, 1, agent.SessionCount())

	r.handleAgentDisconnect(x)

	assert.Equal(t, []types.Event{types.PCList{Names: []string{}}}, b1.Events())
	name, ok := r.browsers.CurrentAgent("brw_1")
	require.True(t, ok, "selection is left dangling")
	assert.Equal(t, "X", name)

	// input is dropped rather than erroring
	r.handleBrowserEvent("brw_1", types.TerminalInput{Data: "ls\n"})
	assert.Len(t, b1.Events(), 1)

	// new selections of the vanished name fail
	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})
	assert.Len(t, eventsOf[types.PCSelectError](b1), 1)
}

func TestRouter_ReselectClosesPreviousSession(t *testing.T) {
	r := New(Options{})
	x := registerAgent(r, "agt_x", "X")
	y := registerAgent(r, "agt_y", "Y")
	connectBrowser(r, "brw_1")

	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})
	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "Y"})

	assert.Equal(t, []types.CloseTerminal{{BrowserID: "brw_1"}}, eventsOf[types.CloseTerminal](x))
	assert.Equal(t, []types.CreateNewTerminal{{BrowserID: "brw_1"}}, eventsOf[types.CreateNewTerminal](y))

	r.handleBrowserEvent("brw_1", types.TerminalInput{Data: "pwd\n"})
	assert.Empty(t, eventsOf[types.TerminalInput](x))
	assert.Len(t, eventsOf[types.TerminalInput](y), 1)
}

func TestRouter_ReselectSameAgentRecreatesProcess(t *testing.T) {
	r := New(Options{})
	x := registerAgent(r, "agt_x", "X")
	connectBrowser(r, "brw_1")

	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})
	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})

	assert.Equal(t, []types.Event{
		types.CreateNewTerminal{BrowserID: "brw_1"},
		types.CloseTerminal{BrowserID: "brw_1"},
		types.CreateNewTerminal{BrowserID: "brw_1"},
	}, x.Events())
}

func TestRouter_PublishesLifecycleEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	publisher := pubsub.NewMockPublisher(ctrl)
	r := New(Options{Publisher: publisher, SubjectPrefix: "test"})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	expect := func(topic string, ev types.LifecycleEvent) *gomock.Call {
		ev.Time = fixed
		payload, err := json.Marshal(ev)
		require.NoError(t, err)
		return publisher.EXPECT().Publish(gomock.Any(), topic, payload).Return(nil)
	}

	gomock.InOrder(
		expect("test.agent.registered", types.LifecycleEvent{Type: types.LifecycleAgentRegistered, Agent: "X"}),
		expect("test.session.opened", types.LifecycleEvent{Type: types.LifecycleSessionOpened, Agent: "X", BrowserID: "brw_1"}),
		expect("test.session.closed", types.LifecycleEvent{Type: types.LifecycleSessionClosed, Agent: "X", BrowserID: "brw_1"}),
		expect("test.agent.unregistered", types.LifecycleEvent{Type: types.LifecycleAgentUnregistered, Agent: "X"}),
	)

	x := registerAgent(r, "agt_x", "X")
	connectBrowser(r, "brw_1")
	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})
	r.handleBrowserDisconnect("brw_1")
	r.handleAgentDisconnect(x)
}

func TestRouter_PublishFailureDoesNotAffectRouting(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	publisher := pubsub.NewMockPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(fmt.Errorf("broker down")).AnyTimes()

	r := New(Options{Publisher: publisher})
	x := registerAgent(r, "agt_x", "X")
	b1 := connectBrowser(r, "brw_1")
	r.handleBrowserEvent("brw_1", types.SelectPC{Name: "X"})

	assert.Len(t, eventsOf[types.PCSelectedAck](b1), 1)
	assert.Len(t, eventsOf[types.CreateNewTerminal](x), 1)
}

func TestRouter_Run(t *testing.T) {
	r := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx) }()

	x := newConn("agt_x")
	b1 := newConn("brw_1")
	r.OnAgentEvent(x, types.AgentRegister{Name: "X"})
	r.OnBrowserConnect(b1)
	r.OnBrowserEvent("brw_1", types.SelectPC{Name: "X"})
	r.OnBrowserEvent("brw_1", types.TerminalInput{Data: "ls\n"})
	r.OnAgentEvent(x, types.TerminalOutput{BrowserID: "brw_1", Data: "file.txt\n"})

	require.Eventually(t, func() bool {
		return len(eventsOf[types.TerminalOutput](b1)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Agents: []string{"X"}, Browsers: 1, Attached: 1, Sessions: 1}, stats)

	r.OnBrowserDisconnect("brw_1")
	r.OnAgentDisconnect(x)
	stats, err = r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Agents: []string{}, Browsers: 0, Attached: 0}, stats)

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop")
	}

	_, err = r.Stats(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	// submitting after stop must not block
	r.OnBrowserConnect(newConn("brw_late"))
}

func TestRouter_ConcurrentBrowsersKeepPerConnectionOrder(t *testing.T) {
	r := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx) //nolint:errcheck

	x := newConn("agt_x")
	r.OnAgentEvent(x, types.AgentRegister{Name: "X"})

	const browsers = 8
	const inputs = 50

	var wg conc.WaitGroup
	for b := 0; b < browsers; b++ {
		id := fmt.Sprintf("brw_%d", b)
		wg.Go(func() {
			r.OnBrowserConnect(newConn(id))
			r.OnBrowserEvent(id, types.SelectPC{Name: "X"})
			for i := 0; i < inputs; i++ {
				r.OnBrowserEvent(id, types.TerminalInput{Data: fmt.Sprintf("%d", i)})
			}
		})
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(eventsOf[types.TerminalInput](x)) == browsers*inputs
	}, 5*time.Second, 10*time.Millisecond)

	next := map[string]int{}
	for _, in := range eventsOf[types.TerminalInput](x) {
		assert.Equal(t, fmt.Sprintf("%d", next[in.BrowserID]), in.Data, "out of order input for %s", in.BrowserID)
		next[in.BrowserID]++
	}
	assert.Len(t, next, browsers)
}
