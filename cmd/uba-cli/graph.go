package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/uba-build/uba/session"
)

// graphFile is the on-disk shape of a submitted build: a flat list of
// named process nodes referencing each other by name for dependencies,
// rather than the numeric ids only the host can assign.
type graphFile struct {
	Processes []graphNode `yaml:"processes"`
}

type graphNode struct {
	Name          string            `yaml:"name"`
	Argv          []string          `yaml:"argv"`
	WorkingDir    string            `yaml:"working_dir"`
	Env           map[string]string `yaml:"env"`
	Weight        float64           `yaml:"weight"`
	DependsOn     []string          `yaml:"depends_on"`
	CacheBucketID string            `yaml:"cache_bucket"`
	CanDetour     bool              `yaml:"can_detour"`
	CanExecRemote bool              `yaml:"can_exec_remote"`
	WriteToCache  bool              `yaml:"write_to_cache"`
	TrackedHints  []string          `yaml:"outputs"`
}

func loadGraph(path string) (*graphFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var g graphFile
	if err := yaml.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for i := range g.Processes {
		if g.Processes[i].Weight == 0 {
			g.Processes[i].Weight = 1
		}
	}
	return &g, nil
}

// topoSort orders nodes so every dependency appears before its
// dependents, the order the host needs to enqueue them in one pass.
// Kahn's algorithm; a cycle is a configuration error the build author
// needs to fix, not something the CLI can route around.
func topoSort(g *graphFile) ([]int, error) {
	byName := make(map[string]int, len(g.Processes))
	for i, n := range g.Processes {
		if _, dup := byName[n.Name]; dup {
			return nil, fmt.Errorf("duplicate process name %q", n.Name)
		}
		byName[n.Name] = i
	}
	indeg := make([]int, len(g.Processes))
	fwd := make([][]int, len(g.Processes))
	for i, n := range g.Processes {
		for _, dep := range n.DependsOn {
			di, ok := byName[dep]
			if !ok {
				return nil, fmt.Errorf("process %q depends on unknown process %q", n.Name, dep)
			}
			fwd[di] = append(fwd[di], i)
			indeg[i]++
		}
	}
	var queue, order []int
	for i, d := range indeg {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		for _, j := range fwd[i] {
			indeg[j]--
			if indeg[j] == 0 {
				queue = append(queue, j)
			}
		}
	}
	if len(order) != len(g.Processes) {
		return nil, fmt.Errorf("dependency cycle detected among %d processes", len(g.Processes)-len(order))
	}
	return order, nil
}

// buildSubmission turns a topo-sorted graph into the wire format,
// remapping name-based dependencies to submission-order indexes.
func buildSubmission(g *graphFile, order []int) []session.GraphSubmitNode {
	posInSubmission := make(map[int]int, len(order))
	for pos, origIdx := range order {
		posInSubmission[origIdx] = pos
	}
	byName := make(map[string]int, len(g.Processes))
	for i, n := range g.Processes {
		byName[n.Name] = i
	}

	nodes := make([]session.GraphSubmitNode, len(order))
	for pos, origIdx := range order {
		n := g.Processes[origIdx]
		deps := make([]uint32, 0, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			deps = append(deps, uint32(posInSubmission[byName[dep]]))
		}
		nodes[pos] = session.GraphSubmitNode{
			Info: session.StartInfo{
				Argv:          n.Argv,
				WorkingDir:    n.WorkingDir,
				EnvDelta:      n.Env,
				Weight:        n.Weight,
				TrackedHints:  n.TrackedHints,
				CacheBucketID: n.CacheBucketID,
				CanDetour:     n.CanDetour,
				CanExecRemote: n.CanExecRemote,
			},
			Dependencies:  deps,
			CacheBucketID: n.CacheBucketID,
			CanDetour:     n.CanDetour,
			CanExecRemote: n.CanExecRemote,
			WriteToCache:  n.WriteToCache,
		}
	}
	return nodes
}
