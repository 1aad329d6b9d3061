package resource

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/utils"
)

// Requested or offered compute capacity.
type ResourceProfile struct {
	// Millicores.
	CPU int64 `json:"cpu" yaml:"cpu"`
	// Bytes.
	Memory int64 `json:"memory" yaml:"memory"`
	// Properties a worker must have to host the profile.
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

func (p ResourceProfile) Validate() error {
	if p.CPU < 0 || p.Memory < 0 {
		return fmt.Errorf("%w: negative resource profile %s", utils.ErrBadRequest, p)
	}
	return nil
}

func (p ResourceProfile) add(o ResourceProfile) ResourceProfile {
	return ResourceProfile{CPU: p.CPU + o.CPU, Memory: p.Memory + o.Memory}
}

func (p ResourceProfile) sub(o ResourceProfile) ResourceProfile {
	return ResourceProfile{CPU: p.CPU - o.CPU, Memory: p.Memory - o.Memory}
}

// Returns true if p fits within the available capacity.
func (p ResourceProfile) fits(available ResourceProfile) bool {
	return p.CPU <= available.CPU && p.Memory <= available.Memory
}

func (p ResourceProfile) String() string {
	s := fmt.Sprintf("cpu=%dm memory=%s", p.CPU, utils.HumanByteSize(p.Memory))
	for _, key := range sortedKeys(p.Properties) {
		s += fmt.Sprintf(" %s=%s", key, p.Properties[key])
	}
	return s
}

// A lease of capacity on one worker.
type SlotProfile struct {
	SlotID        string          `json:"slot_id"`
	WorkerID      string          `json:"worker_id"`
	WorkerAddress string          `json:"worker_address"`
	JobID         execution.JobID `json:"job_id"`
	Profile       ResourceProfile `json:"profile"`
}

func (s SlotProfile) String() string {
	return fmt.Sprintf("%s@%s", s.SlotID, s.WorkerID)
}

// Identity and capacity reported by a worker.
type WorkerProfile struct {
	WorkerID   string            `json:"worker_id"`
	Address    string            `json:"address"`
	Capacity   ResourceProfile   `json:"capacity"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Creates a profile describing the local host: its cpus, memory, a stable
// machine identity and platform properties.
func NewWorkerProfileWithDefaults(address string) WorkerProfile {
	p := WorkerProfile{
		Address: address,
		Capacity: ResourceProfile{
			CPU:    int64(runtime.NumCPU()) * 1000,
			Memory: utils.SystemMemory(),
		},
		Properties: map[string]string{
			"node.arch": runtime.GOARCH,
			"node.os":   runtime.GOOS,
			"node.cpus": fmt.Sprint(runtime.NumCPU()),
		},
	}

	if id, err := machineid.ProtectedID("engine-worker"); err == nil {
		p.Properties["node.id"] = id
		p.WorkerID = id[:16]
	} else {
		p.WorkerID = uuid.NewString()
	}

	if hostname, err := os.Hostname(); err == nil {
		p.Properties["worker.hostname"] = hostname
	}

	return p
}

func (p WorkerProfile) Validate() error {
	if p.WorkerID == "" {
		return fmt.Errorf("%w: worker profile without id", utils.ErrBadRequest)
	}
	if p.Address == "" {
		return fmt.Errorf("%w: worker %s has no address", utils.ErrBadRequest, p.WorkerID)
	}
	return p.Capacity.Validate()
}

// Fulfills checks if the worker has all the required properties.
func (p WorkerProfile) Fulfills(requirements map[string]string) bool {
	for key, value := range requirements {
		if actual, ok := p.Properties[key]; !ok || actual != value {
			return false
		}
	}
	return true
}

// Parses "key=value" pairs into a property map.
// Used for the comma separated environment form and for config lists.
func ParseProperties(list []string) (map[string]string, error) {
	properties := map[string]string{}
	for _, item := range list {
		key, value, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: invalid property %q", utils.ErrParse, item)
		}
		properties[strings.TrimSpace(key)] = value
	}
	return properties, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
