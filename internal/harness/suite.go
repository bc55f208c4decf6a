package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes running every scenario of a directory.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure is one scenario that could not be loaded, run, or did
// not pass.
type ScenarioFailure struct {
	Scenario string `json:"scenario"`
	Path     string `json:"path"`
	Error    string `json:"error"`
}

// ScenarioFiles returns the .yaml and .yml files of dir in name order.
// A path to a single file is returned as is.
func ScenarioFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// RunSuite loads and runs every scenario under path.
func RunSuite(path string, run func(*Scenario) (*Result, error)) (*SuiteResult, error) {
	if run == nil {
		run = Run
	}
	files, err := ScenarioFiles(path)
	if err != nil {
		return nil, err
	}

	res := &SuiteResult{}
	for _, file := range files {
		res.Total++

		scenario, err := LoadScenario(file)
		if err != nil {
			res.fail("", file, fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		out, err := run(scenario)
		if err != nil {
			res.fail(scenario.Name, file, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		if !out.Pass {
			res.fail(scenario.Name, file, strings.Join(out.Errors, "; "))
			continue
		}
		res.Passed++
	}
	return res, nil
}

func (r *SuiteResult) fail(name, path, msg string) {
	r.Failed++
	r.Failures = append(r.Failures, ScenarioFailure{Scenario: name, Path: path, Error: msg})
}
