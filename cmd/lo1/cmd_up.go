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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/newstack-cloud/lo1/cmd/lo1/internal/event"
	"github.com/newstack-cloud/lo1/pkg/logging"
	"github.com/newstack-cloud/lo1/pkg/ux"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Bring the workspace up in dependency order",
	Long: `Starts infrastructure, application containers, and host services in
dependency-graph order, gating each phase on readiness. In the default
foreground mode the command follows logs until interrupted, then tears
the workspace down (unless --skip-teardown).`,
	RunE: runUp,
}

func runUp(cmd *cobra.Command, _ []string) error {
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
	printer := newEventPrinter(jsonOutput, logsDir(dir))
	go printer.consume(bus)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := newProductionManager(dir, logger, bus)
	result, err := manager.Up(ctx, UpOptions{
		Services:     upServices,
		ModeOverride: upModeOverride,
	})
	if err != nil {
		bus.Close()
		printer.Wait()
		printError(err)
		return err
	}

	if upDetach {
		bus.Close()
		printer.Wait()
		if !jsonOutput {
			ux.Success(fmt.Sprintf("workspace %q is up (%d services)", result.Config.Name, len(result.Handles)))
		}
		return nil
	}

	// Foreground: follow logs until interrupt.
	<-ctx.Done()
	stop()

	if upSkipTeardown {
		if result.Logs != nil {
			result.Logs.Kill()
		}
		bus.Close()
		printer.Wait()
		return nil
	}

	downCtx, cancel := context.WithTimeout(context.Background(), downGraceTimeout)
	defer cancel()
	if result.Logs != nil {
		result.Logs.Kill()
	}
	downErr := manager.Down(downCtx, DownOptions{
		Clean:   upClean,
		Handles: result.Handles,
	})
	bus.Close()
	printer.Wait()
	if downErr != nil {
		printError(downErr)
		return downErr
	}
	return nil
}
