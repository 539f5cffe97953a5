package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sortline/internal/api"
)

func newControlCommands(ctx *commandContext) []*cobra.Command {
	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause sorting; the belt keeps running but objects pass through",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, ctx, "Paused", func(client *api.Client, reqCtx context.Context) (*api.ControlResponse, error) {
				return client.Pause(reqCtx)
			})
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume sorting after a pause or maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, ctx, "Resumed", func(client *api.Client, reqCtx context.Context) (*api.ControlResponse, error) {
				return client.Resume(reqCtx)
			})
		},
	}

	maintenanceCmd := &cobra.Command{
		Use:       "maintenance [on|off]",
		Short:     "Enter or leave maintenance mode (diverters homed, pipeline idle)",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && args[0] == "off" {
				return runControl(cmd, ctx, "Maintenance mode left", func(client *api.Client, reqCtx context.Context) (*api.ControlResponse, error) {
					return client.Resume(reqCtx)
				})
			}
			return runControl(cmd, ctx, "Maintenance mode entered", func(client *api.Client, reqCtx context.Context) (*api.ControlResponse, error) {
				return client.Maintenance(reqCtx)
			})
		},
	}

	return []*cobra.Command{pauseCmd, resumeCmd, maintenanceCmd}
}

func runControl(cmd *cobra.Command, ctx *commandContext, verb string, action func(*api.Client, context.Context) (*api.ControlResponse, error)) error {
	client, err := ctx.client()
	if err != nil {
		return err
	}
	resp, err := action(client, cmd.Context())
	if err != nil {
		return err
	}
	stdout := cmd.OutOrStdout()
	if !resp.OK {
		if resp.Message != "" {
			return fmt.Errorf("%s (state: %s)", resp.Message, resp.State)
		}
		return fmt.Errorf("daemon refused the action (state: %s)", resp.State)
	}
	fmt.Fprintf(stdout, "%s (state: %s)\n", verb, resp.State)
	return nil
}
