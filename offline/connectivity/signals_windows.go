//go:build windows

package connectivity

import "os"

func defaultForegroundSignals() []os.Signal { return nil }
