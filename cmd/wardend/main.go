// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// wardend manages policy-gated sandbox environments.
//
// Usage:
//
//	wardend create [flags]
//	wardend destroy --id <instance>
//	wardend resume --id <instance>
//	wardend list
//	wardend validate
//	wardend version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/warden-foundation/warden/audit"
	"github.com/warden-foundation/warden/lib/config"
	"github.com/warden-foundation/warden/lib/version"
	"github.com/warden-foundation/warden/policy"
	"github.com/warden-foundation/warden/session"
	"github.com/warden-foundation/warden/vm"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("WARDEN_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "create":
		err = createCmd(args, logger)
	case "destroy":
		err = destroyCmd(args, logger)
	case "resume":
		err = resumeCmd(args, logger)
	case "list":
		err = listCmd(args, logger)
	case "validate":
		err = validateCmd(args)
	case "version", "--version", "-v":
		fmt.Printf("wardend %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`wardend - Policy-gated sandbox environment manager

USAGE
    wardend <command> [flags]

COMMANDS
    create    Create a sandbox environment
    destroy   Destroy a sandbox environment and its disk
    resume    Resume a suspended or stopped environment
    list      List environments
    validate  Validate the config and policy documents
    version   Show version

ENVIRONMENT
    WARDEN_CONFIG  Path to the warden.yaml config file (or --config)
    WARDEN_DEBUG   Enable debug logging
`)
}

// commonFlags registers the flags every subcommand shares and returns
// pointers into the flag set.
func commonFlags(flags *pflag.FlagSet) (configPath, agentID, roleHint *string) {
	configPath = flags.String("config", "", "config file path (overrides WARDEN_CONFIG)")
	agentID = flags.String("agent", "", "act as this policed agent instead of the local operator")
	roleHint = flags.String("role", "", "role hint for agents without a permissions entry")
	return
}

func identityFrom(agentID, roleHint string) session.Identity {
	if agentID == "" {
		return session.Identity{Operator: true}
	}
	return session.Identity{AgentID: agentID, RoleHint: roleHint}
}

// runtime is the wired daemon core: one backend, one driver, one
// orchestrator, the log tree.
type runtime struct {
	config       *config.Config
	orchestrator *session.Orchestrator
	logs         *audit.Logs
	registry     *vm.Registry
	driver       *vm.Driver
	callTimeout  time.Duration
}

func (r *runtime) close() {
	r.driver.Close()
	if r.registry != nil {
		r.registry.Close()
	}
	r.logs.Close()
}

// operationContext bounds one lifecycle call by the configured
// backend call timeout and the usual termination signals.
func (r *runtime) operationContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func setup(configPath string, logger *slog.Logger) (*runtime, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if cfg.PolicyFile == "" {
		return nil, fmt.Errorf("config: policy_file is required")
	}

	store, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	callTimeout, err := time.ParseDuration(cfg.Backend.CallTimeout)
	if err != nil {
		return nil, fmt.Errorf("config: call_timeout: %w", err)
	}

	logs, err := audit.OpenLogs(cfg.Paths.Root, audit.LogsConfig{Logger: logger})
	if err != nil {
		return nil, err
	}

	var backend vm.Backend
	switch cfg.Backend.Type {
	case "virsh":
		backend = vm.NewVirshBackend(cfg.Backend.URI, logger)
	case "null":
		backend = vm.NullBackend{}
	default:
		logs.Close()
		return nil, fmt.Errorf("config: unknown backend type %q", cfg.Backend.Type)
	}

	registry, err := vm.OpenRegistry(filepath.Join(cfg.Paths.State, "registry.db"), logger)
	if err != nil {
		logs.Close()
		return nil, err
	}

	driver, err := vm.NewDriver(vm.DriverConfig{
		Backend:  backend,
		Registry: registry,
		DiskRoot: cfg.Paths.Disks,
		Logger:   logger,
	})
	if err != nil {
		registry.Close()
		logs.Close()
		return nil, err
	}

	orchestrator, err := session.New(session.Config{
		Engine: policy.NewEngine(store),
		Driver: driver,
		Logs:   logs,
		Logger: logger,
	})
	if err != nil {
		driver.Close()
		registry.Close()
		logs.Close()
		return nil, err
	}

	return &runtime{
		config:       cfg,
		orchestrator: orchestrator,
		logs:         logs,
		registry:     registry,
		driver:       driver,
		callTimeout:  callTimeout,
	}, nil
}

func createCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("create", pflag.ContinueOnError)
	configPath, agentID, roleHint := commonFlags(flags)
	id := flags.String("id", "", "instance identifier (required)")
	name := flags.String("name", "", "display name (defaults to the identifier)")
	image := flags.String("image", "", "base qcow2 image path (required)")
	bootISO := flags.String("boot-iso", "", "optional boot media ISO")
	cpus := flags.Int("cpus", 2, "vCPU count")
	memory := flags.Int("memory", 2048, "memory in MB")
	disk := flags.Int("disk", 0, "disk size in GB (0 uses the image size)")
	network := flags.String("network", "", "network policy identifier (required)")
	security := flags.String("security", "", "security policy identifier (required)")
	labels := flags.StringToString("label", nil, "labels as key=value, repeatable")
	if err := flags.Parse(args); err != nil {
		return err
	}

	runtime, err := setup(*configPath, logger)
	if err != nil {
		return err
	}
	defer runtime.close()

	ctx, cancel := runtime.operationContext()
	defer cancel()

	env, err := runtime.orchestrator.CreateEnvironment(ctx, identityFrom(*agentID, *roleHint), vm.CreateRequest{
		InstanceID:     *id,
		Name:           *name,
		BaseImage:      *image,
		BootISO:        *bootISO,
		CPUCores:       *cpus,
		MemoryMB:       *memory,
		DiskGB:         *disk,
		NetworkPolicy:  *network,
		SecurityPolicy: *security,
		Labels:         *labels,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created %s (%s) state=%s\n", env.InstanceID, env.UUID, env.State)
	return nil
}

func destroyCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("destroy", pflag.ContinueOnError)
	configPath, agentID, roleHint := commonFlags(flags)
	id := flags.String("id", "", "instance identifier (required)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}

	runtime, err := setup(*configPath, logger)
	if err != nil {
		return err
	}
	defer runtime.close()

	ctx, cancel := runtime.operationContext()
	defer cancel()

	if err := runtime.orchestrator.DestroyEnvironment(ctx, identityFrom(*agentID, *roleHint), *id); err != nil {
		return err
	}
	fmt.Printf("destroyed %s\n", *id)
	return nil
}

func resumeCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("resume", pflag.ContinueOnError)
	configPath, agentID, roleHint := commonFlags(flags)
	id := flags.String("id", "", "instance identifier (required)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}

	runtime, err := setup(*configPath, logger)
	if err != nil {
		return err
	}
	defer runtime.close()

	ctx, cancel := runtime.operationContext()
	defer cancel()

	env, err := runtime.orchestrator.ResumeEnvironment(ctx, identityFrom(*agentID, *roleHint), *id)
	if err != nil {
		return err
	}
	fmt.Printf("resumed %s state=%s\n", env.InstanceID, env.State)
	return nil
}

func listCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
	configPath, _, _ := commonFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	runtime, err := setup(*configPath, logger)
	if err != nil {
		return err
	}
	defer runtime.close()

	ctx, cancel := runtime.operationContext()
	defer cancel()

	environments, err := runtime.orchestrator.ListEnvironments(ctx)
	if err != nil {
		return err
	}
	if len(environments) == 0 {
		fmt.Println("no environments")
		return nil
	}
	for _, env := range environments {
		detail := string(env.State)
		if env.StateDetail != "" {
			detail += " (" + env.StateDetail + ")"
		}
		fmt.Printf("%-24s %-12s cpu=%d mem=%dMB %s\n",
			env.InstanceID, detail, env.CPUCoresUsed, env.MemoryMaxKB/1024, env.Name)
	}
	return nil
}

// validateCmd loads the config and policy and reports what a daemon
// start would reject, without touching the backend.
func validateCmd(args []string) error {
	flags := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	configPath := flags.String("config", "", "config file path (overrides WARDEN_CONFIG)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if cfg.PolicyFile == "" {
		return fmt.Errorf("config: policy_file is required")
	}
	if _, err := time.ParseDuration(cfg.Backend.CallTimeout); err != nil {
		return fmt.Errorf("config: call_timeout: %w", err)
	}

	store, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return err
	}

	fmt.Printf("config ok: backend=%s root=%s\n", cfg.Backend.Type, cfg.Paths.Root)
	fmt.Printf("policy ok: roles=%s\n", strings.Join(store.RoleNames(), ","))
	return nil
}
