package catalog

import (
	"context"
	"fmt"
	"os"
	"sync"

	"arena/internal/contest/model"
	appErr "arena/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Static serves problems from memory, loaded from a YAML file for local runs
// without a problem service.
type Static struct {
	mu       sync.RWMutex
	problems map[string]model.Problem
}

func NewStatic(problems ...model.Problem) *Static {
	s := &Static{problems: make(map[string]model.Problem, len(problems))}
	for _, p := range problems {
		s.problems[p.ID] = p
	}
	return s
}

type staticFile struct {
	Problems []struct {
		ID         string `yaml:"id"`
		Title      string `yaml:"title"`
		Difficulty string `yaml:"difficulty"`
		TestCases  []struct {
			Input    string `yaml:"input"`
			Expected string `yaml:"expected"`
			Example  bool   `yaml:"example"`
		} `yaml:"testCases"`
	} `yaml:"problems"`
}

// LoadStatic reads a problems YAML file.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read problems file: %w", err)
	}
	var file staticFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse problems file: %w", err)
	}
	problems := make([]model.Problem, 0, len(file.Problems))
	for _, fp := range file.Problems {
		p := model.Problem{ID: fp.ID, Title: fp.Title, Difficulty: fp.Difficulty}
		for _, tc := range fp.TestCases {
			p.TestCases = append(p.TestCases, model.TestCase{Input: tc.Input, Expected: tc.Expected, Example: tc.Example})
		}
		problems = append(problems, p)
	}
	return NewStatic(problems...), nil
}

func (s *Static) GetProblem(_ context.Context, problemID string) (*model.Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.problems[problemID]
	if !ok {
		return nil, appErr.New(appErr.ProblemNotFound).WithDetail("problem_id", problemID)
	}
	p.TestCases = append([]model.TestCase(nil), p.TestCases...)
	return &p, nil
}

var _ Catalog = (*Static)(nil)
