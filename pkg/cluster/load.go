package cluster

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Clusters is a set of cluster descriptors keyed by name.
type Clusters map[string]Cluster

type clustersFile struct {
	Clusters []Cluster `yaml:"clusters"`
}

// Load parses a YAML cluster list, applies defaults and validates every
// entry.
func Load(r io.Reader) (Clusters, error) {
	var f clustersFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decoding cluster list")
	}
	out := Clusters{}
	for _, c := range f.Clusters {
		c = c.WithDefaults()
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := out[c.Name]; dup {
			return nil, errors.Errorf("duplicate cluster %q", c.Name)
		}
		out[c.Name] = c
	}
	return out, nil
}

// LoadFile reads a cluster list from path.
func LoadFile(path string) (Clusters, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening cluster list %s", path)
	}
	defer f.Close()
	return Load(f)
}

// Lookup returns the named cluster.
func (cs Clusters) Lookup(name string) (Cluster, error) {
	c, ok := cs[name]
	if !ok {
		return Cluster{}, errors.Errorf("unknown cluster %q", name)
	}
	return c, nil
}
