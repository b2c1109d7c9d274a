package mipvol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// ConvertToAbsolute returns path unchanged if it is absolute or empty, else
// joins it to the directory base.
func ConvertToAbsolute(path, base string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// WriteJSONFile writes an arbitrary but exportable Go object to an indented JSON file.
func WriteJSONFile(filename string, value interface{}) error {
	m, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error in writing JSON file %s: %v", filename, err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, m, "", "    "); err != nil {
		return err
	}
	if err := os.WriteFile(filename, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write JSON file %s: %v", filename, err)
	}
	return nil
}
