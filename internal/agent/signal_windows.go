//go:build windows

package agent

import "os"

func signalTerminate(process *os.Process) error {
	return process.Kill()
}
