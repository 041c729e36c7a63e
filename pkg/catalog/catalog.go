// Package catalog provides the read-only action knowledge base: which actions
// each AWS service exposes, and which risk categories an action carries.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// RiskCategory classifies what a dangerous action enables.
type RiskCategory string

const (
	PrivilegeEscalation        RiskCategory = "privilege-escalation"
	DataExfiltration           RiskCategory = "data-exfiltration"
	ResourceExposure           RiskCategory = "resource-exposure"
	CredentialsExposure        RiskCategory = "credentials-exposure"
	InfrastructureModification RiskCategory = "infrastructure-modification"
)

// Categories lists every known risk category in severity-report order.
var Categories = []RiskCategory{
	PrivilegeEscalation,
	CredentialsExposure,
	DataExfiltration,
	ResourceExposure,
	InfrastructureModification,
}

// UnknownServiceError indicates a statement referenced a service prefix with
// zero registered actions.
type UnknownServiceError struct {
	Service string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service prefix %q: no registered actions", e.Service)
}

// Catalog is an immutable snapshot of the action dataset. Safe for concurrent
// use; never mutated after Load.
type Catalog struct {
	version  string
	services map[string][]string       // lowercase prefix -> canonical action names, sorted
	tags     map[string][]RiskCategory // lowercase "service:action" -> categories
}

// snapshot matches the on-disk dataset format.
type snapshot struct {
	Version  string              `json:"version"`
	Services map[string][]string `json:"services"`
	Tags     map[string][]string `json:"tags"`
}

//go:embed data/actions.json
var embeddedDataset []byte

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the catalog built from the embedded dataset.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := parse(embeddedDataset)
		if err != nil {
			// The embedded dataset is validated at build time; a parse failure
			// here means a corrupted binary.
			panic(fmt.Sprintf("catalog: embedded dataset: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Load reads a dataset snapshot from r.
func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return parse(data)
}

// LoadFile reads a dataset snapshot from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func parse(data []byte) (*Catalog, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	if len(snap.Services) == 0 {
		return nil, fmt.Errorf("parse dataset: no services")
	}

	c := &Catalog{
		version:  snap.Version,
		services: make(map[string][]string, len(snap.Services)),
		tags:     make(map[string][]RiskCategory, len(snap.Tags)),
	}
	for svc, actions := range snap.Services {
		key := strings.ToLower(svc)
		sorted := append([]string(nil), actions...)
		sort.Strings(sorted)
		c.services[key] = sorted
	}
	for action, cats := range snap.Tags {
		key := strings.ToLower(action)
		rcs := make([]RiskCategory, 0, len(cats))
		for _, cat := range cats {
			rcs = append(rcs, RiskCategory(cat))
		}
		sort.Slice(rcs, func(i, j int) bool { return rcs[i] < rcs[j] })
		c.tags[key] = rcs
	}
	return c, nil
}

// Version reports the dataset version string.
func (c *Catalog) Version() string { return c.version }

// Services returns all known service prefixes, sorted.
func (c *Catalog) Services() []string {
	out := make([]string, 0, len(c.services))
	for svc := range c.services {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the action names registered for a service prefix
// (case-insensitive). Returns UnknownServiceError for unregistered prefixes.
func (c *Catalog) Lookup(service string) ([]string, error) {
	actions, ok := c.services[strings.ToLower(service)]
	if !ok {
		return nil, &UnknownServiceError{Service: service}
	}
	return actions, nil
}

// Has reports whether a fully-qualified "service:Action" name is registered.
func (c *Catalog) Has(action string) bool {
	svc, name, ok := strings.Cut(action, ":")
	if !ok {
		return false
	}
	actions, found := c.services[strings.ToLower(svc)]
	if !found {
		return false
	}
	lower := strings.ToLower(name)
	for _, a := range actions {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}

// Tags returns the risk categories of a fully-qualified action, or nil when
// the action is untagged or unknown.
func (c *Catalog) Tags(action string) []RiskCategory {
	return c.tags[strings.ToLower(action)]
}
