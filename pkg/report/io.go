package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// atomicWriteJSON writes v to a temp file next to path and renames it into
// place, so pollers never read a partial file.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) //#nosec G304 -- report files under the output dir
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ReadIndex reads report.json from a report directory.
func ReadIndex(reportDir string) (*Index, error) {
	var index Index
	if err := readJSON(filepath.Join(reportDir, "report.json"), &index); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return &index, nil
}

// ReadFlowDetail reads the detail file of one index entry.
func ReadFlowDetail(reportDir string, entry FlowEntry) (*FlowDetail, error) {
	var fd FlowDetail
	if err := readJSON(filepath.Join(reportDir, entry.DataFile), &fd); err != nil {
		return nil, fmt.Errorf("read flow %s: %w", entry.ID, err)
	}
	return &fd, nil
}
