package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "aegis.pid")
}

func writePIDFile(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return os.WriteFile(pidFilePath(dataDir), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(dataDir string) {
	_ = os.Remove(pidFilePath(dataDir))
}

func readPIDFile(dataDir string) (int, error) {
	data, err := os.ReadFile(pidFilePath(dataDir))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
