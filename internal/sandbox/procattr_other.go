//go:build !unix

package sandbox

import "os/exec"

func configureProcAttrs(cmd *exec.Cmd) {}
