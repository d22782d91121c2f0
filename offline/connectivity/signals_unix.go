//go:build !windows

package connectivity

import (
	"os"
	"syscall"
)

func defaultForegroundSignals() []os.Signal { return []os.Signal{syscall.SIGCONT} }
