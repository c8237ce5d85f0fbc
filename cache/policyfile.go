package cache

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// policyFile is the YAML form of a Policy:
//
//	default: 0s
//	max: 4h
//	ttl:
//	  player: 15m
//	  leaderboard: 5m
type policyFile struct {
	Default string            `yaml:"default,omitempty"`
	Max     string            `yaml:"max,omitempty"`
	TTL     map[string]string `yaml:"ttl"`
}

// LoadPolicy reads a YAML TTL table from r and layers it over base.
// Categories not named in the file keep their base TTL. Durations use
// time.ParseDuration syntax.
func LoadPolicy(r io.Reader, base Policy) (Policy, error) {
	var pf policyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil && err != io.EOF {
		return base, fmt.Errorf("while decoding ttl table: %w", err)
	}

	p := base
	var err error
	if p.DefaultTTL, err = parseTTL("default", pf.Default, base.DefaultTTL); err != nil {
		return base, err
	}
	if p.MaxTTL, err = parseTTL("max", pf.Max, base.MaxTTL); err != nil {
		return base, err
	}
	for name, v := range pf.TTL {
		ttl, err := parseTTL(name, v, 0)
		if err != nil {
			return base, err
		}
		p = p.WithTTL(Category(name), ttl)
	}

	if err := p.Validate(); err != nil {
		return base, err
	}
	return p, nil
}

// LoadPolicyFile is LoadPolicy on the named file.
func LoadPolicyFile(path string, base Policy) (Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return base, err
	}
	defer f.Close()

	p, err := LoadPolicy(f, base)
	if err != nil {
		return base, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func parseTTL(name, v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("ttl %q: %w", name, err)
	}
	return d, nil
}
