// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/compose"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/dag"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/hook"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/plugin"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/probe"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proxy"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/state"
	"github.com/newstack-cloud/lo1/pkg/ux"
)

// --- Global Command Variables ---
var (
	jsonOutput   bool
	workspaceArg string

	upServices     []string
	upModeOverride string
	upDetach       bool
	upSkipTeardown bool
	upClean        bool

	downClean bool

	hostsApply  bool
	hostsRemove bool

	logsList bool

	initFailFast bool

	rootCmd = &cobra.Command{
		Use:   "lo1",
		Short: "A local multi-service development orchestrator",
		Long: `lo1 brings a whole development stack up from one declarative
workspace manifest: host processes, containers, databases, queues,
reverse proxy, and init tasks, started in dependency order and torn
down cleanly on exit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")
	rootCmd.PersistentFlags().StringVarP(&workspaceArg, "workspace", "w", "", "workspace directory (default: current directory)")

	upCmd.Flags().StringSliceVar(&upServices, "services", nil, "start only these services (plus dependencies)")
	upCmd.Flags().StringVar(&upModeOverride, "mode", "", "force every service mode (dev|container)")
	upCmd.Flags().BoolVarP(&upDetach, "detach", "d", false, "return after startup instead of following logs")
	upCmd.Flags().BoolVar(&upSkipTeardown, "skip-teardown", false, "leave the workspace running on exit")
	upCmd.Flags().BoolVar(&upClean, "clean", false, "remove volumes and orphans on teardown")

	downCmd.Flags().BoolVar(&downClean, "clean", false, "also remove volumes and orphan containers")

	hostsCmd.Flags().BoolVar(&hostsApply, "apply", false, "apply the lo1 hosts block")
	hostsCmd.Flags().BoolVar(&hostsRemove, "remove", false, "remove the lo1 hosts block")

	logsCmd.Flags().BoolVar(&logsList, "list", false, "list known services instead of following logs")

	initCmd.Flags().BoolVar(&initFailFast, "fail-fast", false, "stop at the first clone failure")

	rootCmd.AddCommand(upCmd, downCmd, statusCmd, logsCmd, initCmd, hostsCmd, tlsSetupCmd, validateCmd)
}

// workspaceDir resolves the target workspace directory.
func workspaceDir() (string, error) {
	if workspaceArg != "" {
		return filepath.Abs(workspaceArg)
	}
	return os.Getwd()
}

// manifestPath resolves the manifest inside the workspace.
func manifestPath() (string, error) {
	dir, err := workspaceDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, config.DefaultManifestName), nil
}

// printError renders one error for humans or machines.
func printError(err error) {
	if !jsonOutput {
		ux.Error(err.Error())
		return
	}

	payload := map[string]any{
		"error":   errorKind(err),
		"message": err.Error(),
	}
	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return
	}
	fmt.Println(string(data))
}

// errorKind maps an error to its stable kind name for --json output.
func errorKind(err error) string {
	var (
		cfgErr    *config.ConfigError
		depErr    *dag.UnknownDependencyError
		cycleErr  *dag.CycleError
		filterErr *dag.FilterError
		pluginErr *plugin.Error
		execErr   *compose.ExecError
		probeErr  *probe.Error
		hookErr   *hook.HookError
		tlsErr    *proxy.TLSError
		hostsErr  *proxy.HostsError
		startErr  *ServiceStartError
		orchErr   *OrchestratorError
	)

	switch {
	case errors.As(err, &cfgErr):
		return "ConfigError"
	case errors.As(err, &depErr), errors.As(err, &cycleErr):
		return "DagError"
	case errors.As(err, &filterErr):
		return "FilterError"
	case errors.As(err, &pluginErr):
		return "PluginError"
	case errors.As(err, &execErr):
		return "ComposeExecError"
	case errors.As(err, &probeErr):
		return "ReadinessProbeError"
	case errors.As(err, &hookErr):
		return "HookError"
	case errors.As(err, &tlsErr):
		return "TlsError"
	case errors.As(err, &hostsErr):
		return "HostsError"
	case errors.As(err, &startErr):
		return "ServiceStartError"
	case errors.As(err, &orchErr):
		return "OrchestratorError"
	default:
		return "Error"
	}
}

// logsDir returns the workspace's .lo1/logs directory.
func logsDir(workspace string) string {
	return filepath.Join(workspace, state.WorkDirName, "logs")
}
