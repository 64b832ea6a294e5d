package instance

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/soochol/stagecond/internal/stagecond"
)

// Seed is the YAML layout accepted by LoadSeed.
type Seed struct {
	Workflows []struct {
		ID     string `yaml:"id"`
		Stages []struct {
			ID   string `yaml:"id"`
			Name string `yaml:"name"`
		} `yaml:"stages"`
	} `yaml:"workflows"`
	Instances  []Instance          `yaml:"instances"`
	Users      []User              `yaml:"users"`
	Teams      map[string][]string `yaml:"teams"`
	Components []struct {
		InstanceID  string         `yaml:"instance_id"`
		StageID     string         `yaml:"stage_id"`
		Type        string         `yaml:"type"`
		ComponentID string         `yaml:"component_id"`
		Data        map[string]any `yaml:"data"`
	} `yaml:"components"`
	Sources []struct {
		Type string `yaml:"type"`
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"sources"`
}

// LoadSeed reads a YAML seed file into the store.
func (s *Store) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	return s.ApplySeed(data)
}

// ApplySeed loads YAML seed data. Stage order follows list order.
func (s *Store) ApplySeed(data []byte) error {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}
	for _, wf := range seed.Workflows {
		stages := make([]stagecond.Stage, len(wf.Stages))
		for i, st := range wf.Stages {
			stages[i] = stagecond.Stage{ID: st.ID, Name: st.Name, Order: i + 1}
		}
		s.AddWorkflow(wf.ID, stages...)
	}
	for _, u := range seed.Users {
		s.AddUser(u)
	}
	for team, members := range seed.Teams {
		s.AddTeam(team, members...)
	}
	for i := range seed.Instances {
		if err := s.AddInstance(&seed.Instances[i]); err != nil {
			return fmt.Errorf("instance %q: %w", seed.Instances[i].ID, err)
		}
	}
	for _, c := range seed.Components {
		ct, ok := stagecond.ParseComponentType(c.Type)
		if !ok {
			return fmt.Errorf("component %q: unknown type %q", c.ComponentID, c.Type)
		}
		s.SetComponent(c.InstanceID, c.StageID, ct, c.ComponentID, c.Data)
	}
	for _, src := range seed.Sources {
		t, ok := stagecond.ParseTriggerType(src.Type)
		if !ok {
			return fmt.Errorf("source %q: unknown trigger type %q", src.ID, src.Type)
		}
		s.SetSourceName(t, src.ID, src.Name)
	}
	return nil
}
