package execution

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

var ErrScript = errors.New("script error")

// A step function defined by a job script: func(step int) (done bool, err error).
type ScriptFunc func(step int) (bool, error)

// One interpreter per job. Definitions of one job are never
// visible to another job's tasks.
type scriptHost struct {
	mu     sync.Mutex
	jobID  JobID
	interp *interp.Interpreter
	loaded map[string]struct{}
}

func newScriptHost(jobID JobID) *scriptHost {
	return &scriptHost{jobID: jobID, loaded: map[string]struct{}{}}
}

// Evaluates scripts that were not loaded before, in name order.
func (h *scriptHost) load(scripts map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(scripts))
	for name := range scripts {
		if _, ok := h.loaded[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		source := scripts[name]
		if len(strings.TrimSpace(source)) == 0 {
			return fmt.Errorf("%w: job %d: script %s is empty", ErrScript, h.jobID, name)
		}

		if h.interp == nil {
			i := interp.New(interp.Options{})
			if err := i.Use(stdlib.Symbols); err != nil {
				return fmt.Errorf("%w: job %d: %v", ErrScript, h.jobID, err)
			}
			h.interp = i
		}

		if _, err := h.interp.Eval(source); err != nil {
			return fmt.Errorf("%w: job %d: interpret %s: %v", ErrScript, h.jobID, name, err)
		}
		h.loaded[name] = struct{}{}
	}

	return nil
}

func (h *scriptHost) lookup(name string) (ScriptFunc, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.interp == nil {
		return nil, fmt.Errorf("%w: job %d has no scripts", ErrScript, h.jobID)
	}

	value, err := h.interp.Eval(name)
	if err != nil {
		return nil, fmt.Errorf("%w: job %d: %s is not defined: %v", ErrScript, h.jobID, name, err)
	}
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: job %d: %s is not a function", ErrScript, h.jobID, name)
	}

	fnType := value.Type()
	if fnType.NumIn() != 1 || fnType.In(0).Kind() != reflect.Int ||
		fnType.NumOut() != 2 || fnType.Out(0).Kind() != reflect.Bool {
		return nil, fmt.Errorf("%w: job %d: %s must be func(int) (bool, error)", ErrScript, h.jobID, name)
	}

	return func(step int) (bool, error) {
		// Calls into one interpreter are serialized.
		h.mu.Lock()
		defer h.mu.Unlock()

		results := value.Call([]reflect.Value{reflect.ValueOf(step)})
		if !results[1].IsNil() {
			if e, ok := results[1].Interface().(error); ok {
				return false, e
			}
			return false, fmt.Errorf("%w: %s returned a non-error value", ErrScript, name)
		}
		return results[0].Bool(), nil
	}, nil
}
