package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/resource"
	"github.com/srand/jolt/engine/pkg/utils"
	"gopkg.in/yaml.v3"
)

// A compiled physical job graph.
type JobPlan struct {
	// Assigned by the coordinator when zero.
	JobID execution.JobID `json:"job_id" yaml:"job_id"`
	Name  string          `json:"name" yaml:"name"`
	// Task kinds the job may instantiate. Empty allows every kind.
	Plugins []string `json:"plugins,omitempty" yaml:"plugins"`
	// Go sources for script tasks, keyed by name.
	Scripts   map[string]string `json:"scripts,omitempty" yaml:"scripts"`
	Pipelines []PipelinePlan    `json:"pipelines" yaml:"pipelines"`
}

type PipelinePlan struct {
	PipelineID execution.PipelineID `json:"pipeline_id" yaml:"pipeline_id"`
	Groups     []GroupPlan          `json:"groups" yaml:"groups"`
}

type GroupPlan struct {
	GroupID   execution.TaskGroupID      `json:"group_id" yaml:"group_id"`
	Resources ResourceSpec               `json:"resources" yaml:"resources"`
	Tasks     []execution.TaskDescriptor `json:"tasks" yaml:"tasks"`
}

// Human readable resource requirements, e.g. cpu "500m" or "2",
// memory "512MiB".
type ResourceSpec struct {
	CPU        string            `json:"cpu,omitempty" yaml:"cpu"`
	Memory     string            `json:"memory,omitempty" yaml:"memory"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties"`
}

func (s ResourceSpec) Profile() (resource.ResourceProfile, error) {
	profile := resource.ResourceProfile{Properties: s.Properties}

	if s.CPU != "" {
		cpu, err := parseCPU(s.CPU)
		if err != nil {
			return profile, err
		}
		profile.CPU = cpu
	}

	if s.Memory != "" {
		memory, err := utils.ParseSize(s.Memory)
		if err != nil {
			return profile, utils.NewError(utils.ErrParse, "memory", err)
		}
		profile.Memory = memory
	}

	return profile, profile.Validate()
}

// Parses cpus into millicores.
func parseCPU(cpu string) (int64, error) {
	if milli, ok := strings.CutSuffix(cpu, "m"); ok {
		value, err := strconv.ParseInt(milli, 10, 64)
		if err != nil {
			return 0, utils.NewError(utils.ErrParse, "cpu", err)
		}
		return value, nil
	}

	value, err := strconv.ParseFloat(cpu, 64)
	if err != nil {
		return 0, utils.NewError(utils.ErrParse, "cpu", err)
	}
	return int64(value * 1000), nil
}

// Reads a job plan from yaml.
func ParsePlan(data []byte) (*JobPlan, error) {
	plan := &JobPlan{}
	if err := yaml.Unmarshal(data, plan); err != nil {
		return nil, utils.NewError(utils.ErrParse, "plan", err)
	}
	return plan, nil
}

func (p *JobPlan) Validate() error {
	if len(p.Pipelines) == 0 {
		return fmt.Errorf("%w: job plan has no pipelines", utils.ErrBadRequest)
	}

	pipelines := map[execution.PipelineID]struct{}{}
	for _, pipeline := range p.Pipelines {
		if _, ok := pipelines[pipeline.PipelineID]; ok {
			return fmt.Errorf("%w: duplicate pipeline %d", utils.ErrBadRequest, pipeline.PipelineID)
		}
		pipelines[pipeline.PipelineID] = struct{}{}

		if len(pipeline.Groups) == 0 {
			return fmt.Errorf("%w: pipeline %d has no task groups", utils.ErrBadRequest, pipeline.PipelineID)
		}

		groups := map[execution.TaskGroupID]struct{}{}
		for _, group := range pipeline.Groups {
			if _, ok := groups[group.GroupID]; ok {
				return fmt.Errorf("%w: duplicate task group %d in pipeline %d", utils.ErrBadRequest, group.GroupID, pipeline.PipelineID)
			}
			groups[group.GroupID] = struct{}{}

			if _, err := group.Resources.Profile(); err != nil {
				return err
			}
			if err := p.Descriptor(pipeline.PipelineID, group).Validate(); err != nil {
				return err
			}
		}
	}

	return nil
}

// Builds the deployable descriptor of a group.
func (p *JobPlan) Descriptor(pipeline execution.PipelineID, group GroupPlan) *execution.TaskGroupDescriptor {
	tasks := make([]execution.TaskDescriptor, len(group.Tasks))
	copy(tasks, group.Tasks)

	return &execution.TaskGroupDescriptor{
		Location: execution.TaskGroupLocation{
			JobID:      p.JobID,
			PipelineID: pipeline,
			GroupID:    group.GroupID,
		},
		Plugins: p.Plugins,
		Scripts: p.Scripts,
		Tasks:   tasks,
	}
}
