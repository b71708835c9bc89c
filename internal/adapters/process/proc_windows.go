//go:build windows

package process

import "os/exec"

func configureWorkerProcess(cmd *exec.Cmd) {}

// Windows has no SIGTERM for child processes; interrupt is a kill.
func interruptWorker(cmd *exec.Cmd) {
	killWorker(cmd)
}

func killWorker(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
