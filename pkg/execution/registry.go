package execution

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/srand/jolt/engine/pkg/log"
)

var (
	ErrUnknownPlugin     = errors.New("unknown plugin")
	ErrPluginNotDeclared = errors.New("plugin not declared by job")
)

// Creates a task from its descriptor within a job scope.
type Factory func(desc TaskDescriptor, scope *Scope) (Task, error)

// Registry of task factories.
// Jobs never use the registry directly; they acquire a Scope which
// only exposes the plugins they declared and their own scripts.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	scopes    map[JobID]*Scope
}

func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{},
		scopes:    map[JobID]*Scope{},
	}
}

// Returns a registry with the builtin task kinds.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

func (r *Registry) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func (r *Registry) registered(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[kind]
	return ok
}

// Acquires the scope of the group's job, creating it on first use.
// Every successful call must be paired with Release.
func (r *Registry) Acquire(group *TaskGroupDescriptor) (*Scope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobID := group.Location.JobID

	scope, ok := r.scopes[jobID]
	if !ok {
		allowed := map[string]Factory{}
		if len(group.Plugins) == 0 {
			for kind, factory := range r.factories {
				allowed[kind] = factory
			}
		}
		for _, kind := range group.Plugins {
			factory, ok := r.factories[kind]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, kind)
			}
			allowed[kind] = factory
		}

		scope = &Scope{registry: r, jobID: jobID, allowed: allowed, scripts: newScriptHost(jobID)}
		r.scopes[jobID] = scope
		log.Debugf("new - scope - job: %d, plugins: %d", jobID, len(allowed))
	}

	if err := scope.scripts.load(group.Scripts); err != nil {
		if scope.refs == 0 {
			delete(r.scopes, jobID)
		}
		return nil, err
	}

	scope.refs++
	return scope, nil
}

// Releases a scope reference. The scope is dropped with its last reference.
func (r *Registry) Release(scope *Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	scope.refs--
	if scope.refs <= 0 {
		delete(r.scopes, scope.jobID)
		log.Debugf("del - scope - job: %d", scope.jobID)
	}
}

// Plugins and scripts visible to one job.
type Scope struct {
	registry *Registry
	jobID    JobID
	allowed  map[string]Factory
	scripts  *scriptHost
	refs     int
}

func (s *Scope) JobID() JobID {
	return s.jobID
}

func (s *Scope) CreateTask(desc TaskDescriptor) (Task, error) {
	factory, ok := s.allowed[desc.Kind]
	if !ok {
		if !s.registry.registered(desc.Kind) {
			return nil, fmt.Errorf("%w: job %d, kind %s", ErrUnknownPlugin, s.jobID, desc.Kind)
		}
		return nil, fmt.Errorf("%w: job %d, kind %s", ErrPluginNotDeclared, s.jobID, desc.Kind)
	}
	return factory(desc, s)
}

// Looks up a function defined by the job's scripts.
func (s *Scope) ScriptFunc(name string) (ScriptFunc, error) {
	return s.scripts.lookup(name)
}
