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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/newstack-cloud/lo1/cmd/lo1/internal/event"
	"github.com/newstack-cloud/lo1/pkg/logging"
)

// downGraceTimeout bounds a teardown triggered by an interrupt.
const downGraceTimeout = 2 * time.Minute

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the running workspace",
	Long: `Stops every supervised service, downs the compose project, and
removes the state file. Running down against a workspace that is not
running is a no-op.`,
	RunE: runDown,
}

func runDown(cmd *cobra.Command, _ []string) error {
	dir, err := workspaceDir()
	if err != nil {
		printError(err)
		return err
	}

	logger := logging.New(logging.Config{
		Service: "orchestrator",
		LogDir:  logsDir(dir),
		Quiet:   true,
	})
	defer logger.Close()

	bus := event.NewBus(0)
	printer := newEventPrinter(jsonOutput, "")
	go printer.consume(bus)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := newProductionManager(dir, logger, bus)
	downErr := manager.Down(ctx, DownOptions{Clean: downClean})

	bus.Close()
	printer.Wait()
	if downErr != nil {
		printError(downErr)
		return downErr
	}
	return nil
}
