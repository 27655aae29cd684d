package agent

//go:generate mockgen -source $GOFILE -destination process_mocks.go -package $GOPACKAGE

// SpawnRequest describes a terminal process to start for one browser.
type SpawnRequest struct {
	Cols uint16
	Rows uint16
	// Output receives everything the process writes to its terminal. It is
	// called from the process reader goroutine.
	Output func(data string)
}

// ProcessHandle is a running terminal process.
type ProcessHandle interface {
	Write(data string) error
	Resize(cols, rows uint16) error
	// Kill terminates the process. Calling it more than once is harmless.
	Kill() error
	// Done is closed once the process has exited and all output has been
	// delivered.
	Done() <-chan struct{}
}

type Spawner interface {
	Spawn(req SpawnRequest) (ProcessHandle, error)
}
