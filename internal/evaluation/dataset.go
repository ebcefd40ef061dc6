package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Case is one scripted conversation ending in the question under test.
type Case struct {
	ID          string     `json:"id"`
	Question    string     `json:"question"`
	History     []Exchange `json:"history"`
	Expect      []string   `json:"expect"`
	GroundTruth string     `json:"ground_truth"`
}

type Exchange struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

type Dataset struct {
	Name  string `json:"name"`
	Cases []Case `json:"cases"`
}

// LoadDataset reads a dataset file holding either {"name", "cases"} or a bare
// array of cases.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	ds, err := ParseDataset(data)
	if err != nil {
		return nil, err
	}
	if ds.Name == "" {
		ds.Name = filepath.Base(path)
	}
	return ds, nil
}

func ParseDataset(data []byte) (*Dataset, error) {
	var ds Dataset
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &ds.Cases); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
		}
	} else if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}

	for i := range ds.Cases {
		if strings.TrimSpace(ds.Cases[i].Question) == "" {
			return nil, fmt.Errorf("case %d has no question", i)
		}
		if ds.Cases[i].ID == "" {
			ds.Cases[i].ID = "case-" + strconv.Itoa(i+1)
		}
	}
	return &ds, nil
}
