package provision

import (
	"fmt"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCommand struct {
	name string
}

func (t *testCommand) CLIHandler() any {
	return &testCLIHandler{name: t.name}
}

func (t *testCommand) CLIOptions() CLIConfig {
	return CLIConfig{
		Name:        t.name,
		Description: fmt.Sprintf("Test command %s", t.name),
		Group:       "test",
	}
}

func (t *testCommand) CronHandler() any {
	return func() error { return nil }
}

func (t *testCommand) CronOptions() HandlerConfig {
	return HandlerConfig{
		Expression: "0 0 * * *",
		MaxRetries: 3,
		Timeout:    time.Hour,
	}
}

type testCLIHandler struct {
	name string
}

func (t *testCLIHandler) Run(ctx *kong.Context) error {
	return nil
}

type cliOnlyCommand struct {
	name string
}

func (c *cliOnlyCommand) CLIHandler() any {
	return &testCLIHandler{name: c.name}
}

func (c *cliOnlyCommand) CLIOptions() CLIConfig {
	return CLIConfig{Name: c.name, Description: "cli only", Group: "test"}
}

func TestRegistryInitializeWiresExposures(t *testing.T) {
	reg := NewRegistry()

	cronCalls := 0
	reg.SetCronRegister(func(opts HandlerConfig, handler any) error {
		cronCalls++
		assert.Equal(t, "0 0 * * *", opts.Expression)
		return nil
	})

	require.NoError(t, reg.RegisterCommand(&testCommand{name: "sweep"}))
	require.NoError(t, reg.RegisterCommand(&cliOnlyCommand{name: "demo"}))
	require.NoError(t, reg.Initialize())

	assert.Equal(t, 1, cronCalls)

	opts, err := reg.GetCLIOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 2)
}

func TestRegistryRejectsLateRegistration(t *testing.T) {
	reg := NewRegistry()
	reg.SetCronRegister(NilCronRegister)
	require.NoError(t, reg.Initialize())

	err := reg.RegisterCommand(&cliOnlyCommand{name: "late"})
	require.Error(t, err)
	assert.Equal(t, "REGISTRY_ALREADY_INITIALIZED", ErrorCode(err))
}

func TestRegistryRequiresCronScheduler(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCommand(&testCommand{name: "sweep"}))

	err := reg.Initialize()
	require.Error(t, err)
}

func TestRegistryGetCLIOptionsBeforeInitialize(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.GetCLIOptions()
	require.Error(t, err)
}

func TestRegistryRejectsNilCommand(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.RegisterCommand(nil))
}
