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
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/newstack-cloud/lo1/cmd/lo1/internal/event"
	"github.com/newstack-cloud/lo1/pkg/logging"
	"github.com/newstack-cloud/lo1/pkg/ux"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running workspace's services and containers",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	dir, err := workspaceDir()
	if err != nil {
		printError(err)
		return err
	}

	logger := logging.New(logging.Config{Service: "orchestrator", Quiet: true})
	defer logger.Close()
	bus := event.NewBus(0)
	printer := newEventPrinter(jsonOutput, "")
	go printer.consume(bus)
	defer func() {
		bus.Close()
		printer.Wait()
	}()

	manager := newProductionManager(dir, logger, bus)
	status, err := manager.Status(cmd.Context())
	if err != nil {
		printError(err)
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			printError(err)
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if !status.Running {
		ux.Info("no running workspace")
		return nil
	}

	ux.Title(fmt.Sprintf("workspace %s (%s)", status.State.WorkspaceName, status.State.ProjectName))

	names := make([]string, 0, len(status.State.Services))
	for name := range status.State.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		record := status.State.Services[name]
		detail := string(record.Runner)
		switch {
		case record.Pid != 0:
			detail = fmt.Sprintf("%s pid=%d", record.Runner, record.Pid)
		case record.ContainerID != "":
			detail = fmt.Sprintf("%s id=%.12s", record.Runner, record.ContainerID)
		}
		ux.Info(fmt.Sprintf("%-20s %s", name, detail))
	}

	for _, entry := range status.Containers {
		line := fmt.Sprintf("%-20s %s", entry.Service, entry.State)
		if entry.Health != "" {
			line += " (" + entry.Health + ")"
		}
		if entry.State == "running" && (entry.Health == "" || entry.Health == "healthy") {
			ux.Success(line)
		} else {
			ux.Warning(line)
		}
	}
	return nil
}
