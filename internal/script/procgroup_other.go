//go:build !unix

package script

import "os/exec"

// killProcessGroup keeps the exec default of killing only the interpreter.
func killProcessGroup(*exec.Cmd) {}
