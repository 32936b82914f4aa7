package store

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry persists the phones this desktop has been paired with.
type Registry struct {
	UpdatedAt time.Time   `yaml:"updated_at"`
	Phones    []PhoneInfo `yaml:"phones"`
}

// PhoneInfo is the usage summary of one phone.
type PhoneInfo struct {
	Name        string    `yaml:"name"`
	FirstSeenAt time.Time `yaml:"first_seen_at"`
	LastSeenAt  time.Time `yaml:"last_seen_at"`
	Sessions    int       `yaml:"sessions"`
	TotalBytes  uint64    `yaml:"total_bytes"`
}

// LoadRegistry loads the registry from disk. If the file is missing, returns an empty registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{}, nil
		}
		return nil, err
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, err
	}

	return &reg, nil
}

// SaveRegistry writes the registry to disk.
func SaveRegistry(path string, reg *Registry) error {
	if reg == nil {
		return nil
	}
	reg.UpdatedAt = time.Now().UTC()
	sort.Slice(reg.Phones, func(i, j int) bool { return reg.Phones[i].Name < reg.Phones[j].Name })
	data, err := yaml.Marshal(reg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Find returns the entry for name.
func (r *Registry) Find(name string) (*PhoneInfo, bool) {
	for i := range r.Phones {
		if r.Phones[i].Name == name {
			return &r.Phones[i], true
		}
	}
	return nil, false
}

// Upsert returns the entry for name, adding it when missing.
func (r *Registry) Upsert(name string, now time.Time) *PhoneInfo {
	if p, ok := r.Find(name); ok {
		return p
	}
	r.Phones = append(r.Phones, PhoneInfo{Name: name, FirstSeenAt: now})
	return &r.Phones[len(r.Phones)-1]
}
