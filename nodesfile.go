package sessiond

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// nodesFile is the on-disk node list, reloaded on change when watching is
// enabled.
type nodesFile struct {
	Nodes         string `yaml:"nodes"`
	FailoverNodes string `yaml:"failover_nodes"`
}

func loadNodesFile(path string) (nodesFile, error) {
	var nf nodesFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return nf, fmt.Errorf("sessiond: read nodes file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &nf); err != nil {
		return nf, fmt.Errorf("sessiond: parse nodes file %s: %w", path, err)
	}
	if nf.Nodes == "" {
		return nf, fmt.Errorf("sessiond: nodes file %s has no nodes entry", path)
	}
	return nf, nil
}
