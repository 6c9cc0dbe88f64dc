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
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/newstack-cloud/lo1/cmd/lo1/internal/compose"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/event"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proc"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/state"
	"github.com/newstack-cloud/lo1/pkg/ux"
)

var logsCmd = &cobra.Command{
	Use:   "logs [service]",
	Short: "Follow service logs from the running workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogs,
}

func runLogs(cmd *cobra.Command, args []string) error {
	dir, err := workspaceDir()
	if err != nil {
		printError(err)
		return err
	}

	store := state.NewStore(dir)
	st, err := store.Load()
	if err != nil {
		printError(err)
		return err
	}
	if st == nil {
		ux.Info("no running workspace")
		return nil
	}

	if logsList {
		names := make([]string, 0, len(st.Services))
		for name := range st.Services {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	executor := compose.NewDefaultExecutor(compose.ProjectOptions{
		ProjectName: st.ProjectName,
		FileArgs:    st.FileArgs,
		Dir:         st.WorkspaceDir,
	}, proc.NewDefaultManager())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := executor.Logs(ctx, compose.LogsOptions{
		Services: args,
		OnOutput: func(line event.OutputLine) {
			ux.ServiceLine(line.Service, string(line.Stream), line.Text)
		},
	})
	if err != nil {
		printError(err)
		return err
	}

	<-ctx.Done()
	handle.Kill()
	return nil
}
