// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package internal

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// RunCmd runs the command in dir and returns its standard output. On a
// non-zero exit the returned error carries the captured standard error.
func RunCmd(ctx context.Context, dir, command string, args ...string) (string, error) {
	var stdoutBuf, stderrBuf bytes.Buffer

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("error executing command '%s': %s: %s", cmd.String(), err, stderrBuf.String())
	}

	return stdoutBuf.String(), nil
}
