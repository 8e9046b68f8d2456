package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileCheckpoint keeps the next row index as a decimal integer in a file.
type FileCheckpoint struct {
	Path string
}

func NewFileCheckpoint(path string) *FileCheckpoint {
	return &FileCheckpoint{Path: path}
}

// Load returns ok=false when no checkpoint has been written yet.
func (c *FileCheckpoint) Load() (int, bool, error) {
	data, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	index, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint %s: %w", c.Path, err)
	}
	return index, true, nil
}

// Save replaces the file through a rename so a crash never leaves a torn
// value behind.
func (c *FileCheckpoint) Save(index int) error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return err
	}
	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(index)), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.Path)
}

func (c *FileCheckpoint) Clear() error {
	err := os.Remove(c.Path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
