// Package instance is an in-memory implementation of the workflow-side
// collaborators: instances, stages, component snapshots, the user
// directory and task/question metadata.
package instance

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/soochol/stagecond/internal/stagecond"
	"github.com/soochol/stagecond/internal/stagecond/ports"
)

// Instance is one running workflow.
type Instance struct {
	ID             string              `json:"id" yaml:"id"`
	WorkflowID     string              `json:"workflowId" yaml:"workflow_id"`
	CurrentStageID string              `json:"currentStageId" yaml:"current_stage_id"`
	Status         string              `json:"status" yaml:"status"`
	StageStatus    map[string]string   `json:"stageStatus" yaml:"stage_status"`
	Fields         map[string]any      `json:"fields" yaml:"fields"`
	Assignees      map[string][]string `json:"assignees,omitempty" yaml:"assignees,omitempty"`
	UpdatedBy      string              `json:"updatedBy,omitempty" yaml:"-"`
	UpdatedAt      time.Time           `json:"updatedAt" yaml:"-"`
}

func (i *Instance) clone() *Instance {
	cp := *i
	cp.StageStatus = maps.Clone(i.StageStatus)
	cp.Fields = maps.Clone(i.Fields)
	cp.Assignees = maps.Clone(i.Assignees)
	return &cp
}

// User is a directory entry.
type User struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

type componentKey struct {
	instanceID, stageID string
	componentType       stagecond.ComponentType
	componentID         string
}

type sourceKey struct {
	triggerType stagecond.TriggerType
	id          string
}

// Store holds all collaborator state behind one mutex. Every mutating
// method is atomic.
type Store struct {
	mu         sync.RWMutex
	stages     map[string]stagecond.Stage
	workflows  map[string][]string
	instances  map[string]*Instance
	components map[componentKey]map[string]any
	users      map[string]User
	teams      map[string][]string
	sources    map[sourceKey]string
	actionRefs map[sourceKey]string
	now        func() time.Time
}

func NewStore() *Store {
	return &Store{
		stages:     make(map[string]stagecond.Stage),
		workflows:  make(map[string][]string),
		instances:  make(map[string]*Instance),
		components: make(map[componentKey]map[string]any),
		users:      make(map[string]User),
		teams:      make(map[string][]string),
		sources:    make(map[sourceKey]string),
		actionRefs: make(map[sourceKey]string),
		now:        time.Now,
	}
}

// AddWorkflow registers stages of a workflow. Stages are ordered by Order.
func (s *Store) AddWorkflow(workflowID string, stages ...stagecond.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := slices.Clone(stages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	ids := make([]string, len(sorted))
	for i, st := range sorted {
		st.WorkflowID = workflowID
		s.stages[st.ID] = st
		ids[i] = st.ID
	}
	s.workflows[workflowID] = ids
}

// AddInstance registers an instance. It starts on the first stage when
// CurrentStageID is empty.
func (s *Store) AddInstance(inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.workflows[inst.WorkflowID]
	if !ok || len(ids) == 0 {
		return fmt.Errorf("workflow %q has no stages", inst.WorkflowID)
	}
	cp := inst.clone()
	if cp.CurrentStageID == "" {
		cp.CurrentStageID = ids[0]
	}
	if cp.Status == "" {
		cp.Status = stagecond.StatusInProgress
	}
	if cp.StageStatus == nil {
		cp.StageStatus = map[string]string{}
	}
	if cp.Fields == nil {
		cp.Fields = map[string]any{}
	}
	if cp.Assignees == nil {
		cp.Assignees = map[string][]string{}
	}
	if _, ok := cp.StageStatus[cp.CurrentStageID]; !ok {
		cp.StageStatus[cp.CurrentStageID] = stagecond.StatusInProgress
	}
	cp.UpdatedAt = s.now()
	s.instances[cp.ID] = cp
	return nil
}

// Instance returns a copy of the instance.
func (s *Store) Instance(id string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, stagecond.NotFound("instance", id)
	}
	return inst.clone(), nil
}

// SetComponent stores a checklist, questionnaire or file snapshot.
func (s *Store) SetComponent(instanceID, stageID string, ct stagecond.ComponentType, componentID string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[componentKey{instanceID, stageID, ct, componentID}] = maps.Clone(data)
}

// AddUser adds a directory user.
func (s *Store) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddTeam registers team membership.
func (s *Store) AddTeam(teamID string, userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[teamID] = slices.Clone(userIDs)
}

// SetSourceName records a display name for a task, question or stage.
func (s *Store) SetSourceName(t stagecond.TriggerType, id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[sourceKey{t, id}] = name
}

// SetActionReference records that a task or question points at a definition.
func (s *Store) SetActionReference(t stagecond.TriggerType, id, definitionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionRefs[sourceKey{t, id}] = definitionID
}

// ActionReference returns the definition a task or question points at.
func (s *Store) ActionReference(t stagecond.TriggerType, id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actionRefs[sourceKey{t, id}]
}

func (s *Store) GetComponentData(_ context.Context, instanceID, stageID string, ct stagecond.ComponentType, componentID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return nil, stagecond.NotFound("instance", instanceID)
	}
	if ct == stagecond.ComponentField {
		return maps.Clone(inst.Fields), nil
	}
	return maps.Clone(s.components[componentKey{instanceID, stageID, ct, componentID}]), nil
}

func (s *Store) IsStageCompleted(_ context.Context, instanceID, stageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return false, stagecond.NotFound("instance", instanceID)
	}
	switch inst.StageStatus[stageID] {
	case stagecond.StatusCompleted, stagecond.StatusForceCompleted:
		return true, nil
	}
	return false, nil
}

func (s *Store) CurrentStageID(_ context.Context, instanceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return "", stagecond.NotFound("instance", instanceID)
	}
	return inst.CurrentStageID, nil
}

func (s *Store) NextStageID(_ context.Context, instanceID, stageID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return "", stagecond.NotFound("instance", instanceID)
	}
	return s.offsetLocked(inst.WorkflowID, stageID, 1)
}

// offsetLocked returns the stage n positions after stageID, or "" past the end.
func (s *Store) offsetLocked(workflowID, stageID string, n int) (string, error) {
	ids := s.workflows[workflowID]
	idx := slices.Index(ids, stageID)
	if idx < 0 {
		return "", stagecond.NotFound("stage", stageID)
	}
	if idx+n >= len(ids) {
		return "", nil
	}
	return ids[idx+n], nil
}

func (s *Store) Stage(_ context.Context, stageID string) (*stagecond.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stages[stageID]
	if !ok {
		return nil, stagecond.NotFound("stage", stageID)
	}
	return &st, nil
}

func (s *Store) mutate(instanceID string, caller stagecond.Caller, fn func(inst *Instance) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return stagecond.NotFound("instance", instanceID)
	}
	cp := inst.clone()
	if err := fn(cp); err != nil {
		return err
	}
	cp.UpdatedBy = caller.Actor()
	cp.UpdatedAt = s.now()
	s.instances[instanceID] = cp
	return nil
}

func (s *Store) GoToStage(_ context.Context, caller stagecond.Caller, instanceID, targetStageID string) error {
	return s.mutate(instanceID, caller, func(inst *Instance) error {
		if !slices.Contains(s.workflows[inst.WorkflowID], targetStageID) {
			return fmt.Errorf("stage %q is not part of workflow %q", targetStageID, inst.WorkflowID)
		}
		if inst.CurrentStageID != targetStageID && inst.StageStatus[inst.CurrentStageID] == stagecond.StatusInProgress {
			inst.StageStatus[inst.CurrentStageID] = stagecond.StatusCompleted
		}
		inst.CurrentStageID = targetStageID
		inst.StageStatus[targetStageID] = stagecond.StatusInProgress
		inst.Status = stagecond.StatusInProgress
		return nil
	})
}

func (s *Store) SkipStages(_ context.Context, caller stagecond.Caller, instanceID, fromStageID string, count int) (string, error) {
	if count < 1 {
		count = 1
	}
	var landed string
	err := s.mutate(instanceID, caller, func(inst *Instance) error {
		ids := s.workflows[inst.WorkflowID]
		idx := slices.Index(ids, fromStageID)
		if idx < 0 {
			return stagecond.NotFound("stage", fromStageID)
		}
		for i := idx + 1; i <= idx+count && i < len(ids); i++ {
			inst.StageStatus[ids[i]] = stagecond.StatusSkipped
		}
		if inst.StageStatus[fromStageID] == stagecond.StatusInProgress {
			inst.StageStatus[fromStageID] = stagecond.StatusCompleted
		}
		if next := idx + count + 1; next < len(ids) {
			landed = ids[next]
			inst.CurrentStageID = landed
			inst.StageStatus[landed] = stagecond.StatusInProgress
			return nil
		}
		inst.Status = stagecond.StatusCompleted
		return nil
	})
	return landed, err
}

func (s *Store) EndWorkflow(_ context.Context, caller stagecond.Caller, instanceID, status string) error {
	if status == "" {
		status = stagecond.StatusForceCompleted
	}
	return s.mutate(instanceID, caller, func(inst *Instance) error {
		inst.Status = status
		if inst.StageStatus[inst.CurrentStageID] == stagecond.StatusInProgress {
			inst.StageStatus[inst.CurrentStageID] = status
		}
		return nil
	})
}

func (s *Store) CompleteStage(_ context.Context, caller stagecond.Caller, instanceID, stageID string, validate bool) error {
	return s.mutate(instanceID, caller, func(inst *Instance) error {
		if validate && inst.CurrentStageID != stageID {
			return fmt.Errorf("stage %q is not the current stage of instance %q", stageID, instanceID)
		}
		if !slices.Contains(s.workflows[inst.WorkflowID], stageID) {
			return stagecond.NotFound("stage", stageID)
		}
		inst.StageStatus[stageID] = stagecond.StatusCompleted
		if inst.CurrentStageID != stageID {
			return nil
		}
		next, _ := s.offsetLocked(inst.WorkflowID, stageID, 1)
		if next == "" {
			inst.Status = stagecond.StatusCompleted
			return nil
		}
		inst.CurrentStageID = next
		inst.StageStatus[next] = stagecond.StatusInProgress
		return nil
	})
}

func (s *Store) UpdateField(_ context.Context, caller stagecond.Caller, instanceID, _ string, fieldID string, value any) error {
	return s.mutate(instanceID, caller, func(inst *Instance) error {
		inst.Fields[fieldID] = value
		return nil
	})
}

func (s *Store) Assign(_ context.Context, caller stagecond.Caller, instanceID, stageID, assigneeType string, assigneeIDs []string) error {
	key := strings.ToLower(assigneeType)
	if stageID != "" {
		key = stageID + "/" + key
	}
	return s.mutate(instanceID, caller, func(inst *Instance) error {
		inst.Assignees[key] = slices.Clone(assigneeIDs)
		return nil
	})
}

func (s *Store) ResolveEmails(_ context.Context, userIDs, teamIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := slices.Clone(userIDs)
	for _, t := range teamIDs {
		ids = append(ids, s.teams[t]...)
	}
	seen := map[string]bool{}
	var emails []string
	for _, id := range ids {
		u, ok := s.users[id]
		if !ok || u.Email == "" || seen[strings.ToLower(u.Email)] {
			continue
		}
		seen[strings.ToLower(u.Email)] = true
		emails = append(emails, u.Email)
	}
	return emails, nil
}

func (s *Store) GetTriggerSourceName(_ context.Context, t stagecond.TriggerType, sourceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name, ok := s.sources[sourceKey{t, sourceID}]; ok {
		return name, nil
	}
	if t == stagecond.TriggerStage {
		if st, ok := s.stages[sourceID]; ok {
			return st.Name, nil
		}
	}
	return "", nil
}

func (s *Store) ClearActionReferences(_ context.Context, definitionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, ref := range s.actionRefs {
		if ref == definitionID {
			delete(s.actionRefs, k)
			n++
		}
	}
	return n, nil
}

var (
	_ ports.ComponentDataProvider  = (*Store)(nil)
	_ ports.StageTransitioner      = (*Store)(nil)
	_ ports.FieldUpdater           = (*Store)(nil)
	_ ports.Assigner               = (*Store)(nil)
	_ ports.RecipientResolver      = (*Store)(nil)
	_ ports.TriggerSourceNamer     = (*Store)(nil)
	_ ports.ActionReferenceCleaner = (*Store)(nil)
)
