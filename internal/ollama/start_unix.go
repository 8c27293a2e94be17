// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package ollama

import (
	"os"
	"path/filepath"
	"syscall"
)

var executableNames = []string{"ollama"}

func installDirs() []string {
	dirs := []string{"/usr/local/bin", "/usr/bin", "/opt/ollama", "/Applications/Ollama.app/Contents/Resources"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "bin"), filepath.Join(home, "bin"))
	}
	return dirs
}

// detachedProcAttr gives the server its own process group so it survives our exit.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
