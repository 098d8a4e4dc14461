package serviced

import "context"

// Launcher is the service-launcher glue collaborator: it turns the bytes
// persisted at a service file path into a running child process and
// reports which ports that child has opened. Out of scope for this
// module's domain logic; internal/launcher provides the production
// implementation over os/exec and procfs.
type Launcher interface {
	// Launch starts filePath as a child process and returns its PID.
	Launch(ctx context.Context, filePath string) (pid int, err error)
	// Stop sends an interrupt to pid.
	Stop(pid int) error
	// ListeningPorts returns the TCP ports pid currently has listening,
	// or an empty slice if none yet.
	ListeningPorts(pid int) ([]uint16, error)
}
