//go:build unix

package recording

import (
	"os/exec"
	"syscall"
)

// detach puts the capture process in its own process group so a Ctrl+C on
// the server's terminal does not reach it. The manager stops it instead.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
