package provision

import (
	"sync"
	"time"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-errors"
)

// HandlerConfig carries scheduling options for cron-exposed maintenance
// commands.
type HandlerConfig struct {
	Expression string        `json:"expression" yaml:"expression"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	RunOnce    bool          `json:"run_once" yaml:"run_once"`
}

// CLIConfig describes how a command surfaces on the CLI.
type CLIConfig struct {
	Name        string
	Description string
	Group       string
}

// CLICommand is implemented by provisioning commands that expose a CLI
// entry point.
type CLICommand interface {
	CLIOptions() CLIConfig
	CLIHandler() any
}

// CronCommand is implemented by maintenance commands that run on a
// schedule.
type CronCommand interface {
	CronOptions() HandlerConfig
	CronHandler() any
}

// NilCronRegister is a no-op cron hook for registries without a scheduler.
func NilCronRegister(opts HandlerConfig, handler any) error {
	return nil
}

// Registry collects provisioning commands at startup and wires their CLI
// and cron exposure on Initialize.
type Registry struct {
	mu             sync.RWMutex
	pending        []any
	initialized    bool
	cronRegisterFn func(opts HandlerConfig, handler any) error
	cliOptions     []kong.Option
}

func NewRegistry() *Registry {
	return &Registry{
		cliOptions: make([]kong.Option, 0),
	}
}

func (r *Registry) SetCronRegister(fn func(opts HandlerConfig, handler any) error) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cronRegisterFn = fn
	return r
}

// RegisterCommand queues a command for exposure wiring. Registration after
// Initialize is a conflict.
func (r *Registry) RegisterCommand(cmd any) error {
	if cmd == nil {
		return errors.New("command cannot be nil", errors.CategoryBadInput).
			WithTextCode("NIL_COMMAND")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return errors.New("cannot register commands after registry has been initialized", errors.CategoryConflict).
			WithTextCode("REGISTRY_ALREADY_INITIALIZED")
	}
	r.pending = append(r.pending, cmd)

	return nil
}

// Initialize wires every queued command into its exposure surfaces,
// collecting per-command failures rather than stopping at the first.
func (r *Registry) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return errors.New("registry already initialized", errors.CategoryConflict).
			WithTextCode("REGISTRY_ALREADY_INITIALIZED")
	}

	var errs error
	for _, cmd := range r.pending {
		if cliCmd, ok := cmd.(CLICommand); ok {
			opts := cliCmd.CLIOptions()
			r.cliOptions = append(r.cliOptions, kong.DynamicCommand(
				opts.Name,
				opts.Description,
				opts.Group,
				cliCmd.CLIHandler(),
			))
		}

		if cronCmd, ok := cmd.(CronCommand); ok {
			if err := r.registerWithCron(cronCmd); err != nil {
				errs = errors.Join(errs, err)
			}
		}
	}

	r.initialized = true

	return errs
}

func (r *Registry) registerWithCron(cronCmd CronCommand) error {
	if r.cronRegisterFn == nil {
		return errors.New("cron scheduler not provided during initialization", errors.CategoryBadInput).
			WithTextCode("CRON_SCHEDULER_NOT_SET")
	}

	config := cronCmd.CronOptions()

	if err := r.cronRegisterFn(config, cronCmd.CronHandler()); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "cron scheduler registration failed").
			WithTextCode("CRON_REGISTRATION_FAILED").
			WithMetadata(map[string]any{
				"config": config,
			})
	}

	return nil
}

func (r *Registry) GetCLIOptions() ([]kong.Option, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil, errors.New("registry not initialized", errors.CategoryConflict).
			WithTextCode("REGISTRY_NOT_INITIALIZED")
	}

	options := make([]kong.Option, len(r.cliOptions))
	copy(options, r.cliOptions)
	return options, nil
}
