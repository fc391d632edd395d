// provisiond is the demo entry point: it wires the provisioning engine,
// gateway, and janitor against in-memory collaborators and exposes them
// on the CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-logger/glog"
	provision "github.com/goliatone/go-provision"
	"github.com/goliatone/go-provision/gateway"
	"github.com/goliatone/go-provision/janitor"
	"github.com/goliatone/go-provision/locker"
	"github.com/goliatone/go-provision/orchestrator"
	"github.com/goliatone/go-provision/status"
	"github.com/goliatone/go-provision/workflows"
)

type demoCommand struct{}

func (demoCommand) CLIOptions() provision.CLIConfig {
	return provision.CLIConfig{
		Name:        "demo",
		Description: "Run a project create/delete cycle against in-memory collaborators.",
		Group:       "provisioning",
	}
}

func (demoCommand) CLIHandler() any { return &demoHandler{} }

type demoHandler struct {
	Config  string `help:"Path to the YAML config file." short:"c" type:"path"`
	Org     string `help:"Organization id for the demo project." default:"org-demo"`
	Project string `help:"Project id to create and delete." default:"project-demo"`
	BaseURL string `help:"Base URL stamped into result links." default:"http://localhost:8080"`
}

func (h *demoHandler) Run() error {
	logger := newLogger()

	cfg, err := provision.LoadConfig(h.Config)
	if err != nil {
		return err
	}
	cfg.SyncWait = 2 * time.Second

	deps, _, providers, templates, _, _ := workflows.MemoryDependencies()
	templates.Put(provision.TemplateDocument{
		ID:             "tmpl-demo",
		OrganizationID: h.Org,
		Name:           "demo blueprint",
		Repository:     "https://github.com/example/blueprint",
	})
	if _, err := providers.Set(context.Background(), provision.ProviderDocument{
		ID:             "azure",
		OrganizationID: h.Org,
		URL:            "https://provider.example.com",
		PrincipalID:    "sp-demo",
	}); err != nil {
		return err
	}

	eng, err := orchestrator.New(
		locker.NewManager(locker.WithTTL(cfg.LockTTL), locker.WithLogger(logger)),
		status.NewInMemoryStore(),
		orchestrator.WithConfig(cfg),
		orchestrator.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	gw, err := gateway.New(eng,
		gateway.WithBaseURL(h.BaseURL),
		gateway.WithSyncWait(cfg.SyncWait),
		gateway.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx := context.Background()
	user := provision.User{ID: "demo-user", Role: "owner"}
	project := provision.Project{
		ID:             h.Project,
		OrganizationID: h.Org,
		DisplayName:    "Demo Project",
		TemplateID:     "tmpl-demo",
	}

	createCmd := provision.NewCommand(provision.ActionCreate, user, project)
	createPlan, err := workflows.ProjectCreatePlan(ctx, deps, createCmd)
	if err != nil {
		return err
	}
	out, err := gw.Submit(ctx, createCmd, createPlan)
	if err != nil {
		return err
	}
	if err := printJSON("create", out); err != nil {
		return err
	}

	deleteCmd := provision.NewCommand(provision.ActionDelete, user, provision.Project{
		ID:             h.Project,
		OrganizationID: h.Org,
	})
	deletePlan, err := workflows.ProjectDeletePlan(deps, deleteCmd)
	if err != nil {
		return err
	}
	out, err = gw.Submit(ctx, deleteCmd, deletePlan)
	if err != nil {
		return err
	}
	if err := printJSON("delete", out); err != nil {
		return err
	}

	drainCtx, cancel := context.WithTimeout(ctx, cfg.MaximumTimeout)
	defer cancel()
	return eng.Drain(drainCtx)
}

type maintainCommand struct{}

func (maintainCommand) CLIOptions() provision.CLIConfig {
	return provision.CLIConfig{
		Name:        "maintain",
		Description: "Run the maintenance scheduler until interrupted.",
		Group:       "provisioning",
	}
}

func (maintainCommand) CLIHandler() any { return &maintainHandler{} }

type maintainHandler struct {
	Config string `help:"Path to the YAML config file." short:"c" type:"path"`
}

func (h *maintainHandler) Run() error {
	logger := newLogger()

	cfg, err := provision.LoadConfig(h.Config)
	if err != nil {
		return err
	}

	locks := locker.NewManager(locker.WithTTL(cfg.LockTTL), locker.WithLogger(logger))
	results := status.NewInMemoryStore()

	sched := janitor.NewScheduler(janitor.WithLogger(logger))
	reg := provision.NewRegistry().SetCronRegister(sched.Register)
	if err := janitor.Wire(reg, locks, results, cfg, logger); err != nil {
		return err
	}
	if err := reg.Initialize(); err != nil {
		return err
	}

	sched.Start()
	logger.Info("maintenance scheduler running, sweep=%s archive=%s", cfg.SweepSchedule, cfg.ArchiveSchedule)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return sched.Stop(ctx)
}

func newLogger() provision.Logger {
	return provision.NewGlogAdapter(glog.NewLogger(
		glog.WithLoggerTypeJSON(),
		glog.WithLevel("debug"),
	))
}

func printJSON(label string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s:\n%s\n", label, data)
	return nil
}

func main() {
	reg := provision.NewRegistry().SetCronRegister(provision.NilCronRegister)
	for _, cmd := range []any{demoCommand{}, maintainCommand{}} {
		if err := reg.RegisterCommand(cmd); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if err := reg.Initialize(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	dynamic, err := reg.GetCLIOptions()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var cli struct{}
	options := append([]kong.Option{
		kong.Name("provisiond"),
		kong.Description("Project provisioning command orchestrator."),
		kong.UsageOnError(),
	}, dynamic...)

	parser, err := kong.New(&cli, options...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	parser.FatalIfErrorf(kctx.Run())
}
