// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Path returns the absolute path of a fixture stored next to this file.
func Path(filename string) string {
	_, currentFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(currentFile), filename)
}

// LoadJSON reads a fixture and unmarshals it into target.
func LoadJSON(filename string, target any) error {
	data, err := os.ReadFile(Path(filename))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("fixture %s: %w", filename, err)
	}
	return nil
}
