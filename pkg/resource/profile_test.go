package resource

import (
	"runtime"
	"testing"

	"github.com/srand/jolt/engine/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerProfileDefaults(t *testing.T) {
	p := NewWorkerProfileWithDefaults("tcp://localhost:9090")

	assert.NotEmpty(t, p.WorkerID)
	assert.Equal(t, int64(runtime.NumCPU())*1000, p.Capacity.CPU)
	assert.True(t, p.Fulfills(map[string]string{"node.os": runtime.GOOS}))
	assert.True(t, p.Fulfills(map[string]string{"node.os": runtime.GOOS, "node.arch": runtime.GOARCH}))
	assert.False(t, p.Fulfills(map[string]string{"node.os": "plan9"}))
	assert.NoError(t, p.Validate())
}

func TestParseProperties(t *testing.T) {
	properties, err := ParseProperties([]string{"label=test", " zone = eu=1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"label": "test", "zone": " eu=1"}, properties)

	_, err = ParseProperties([]string{"novalue"})
	assert.ErrorIs(t, err, utils.ErrParse)
}

func TestResourceProfileString(t *testing.T) {
	p := ResourceProfile{CPU: 500, Memory: 1 << 20, Properties: map[string]string{"b": "2", "a": "1"}}
	assert.Equal(t, "cpu=500m memory="+utils.HumanByteSize(1<<20)+" a=1 b=2", p.String())
}
