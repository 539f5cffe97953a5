package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"sortline/internal/store"
)

const timestampLayout = "2006-01-02 15:04:05"

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently classified objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Classifications(cmd.Context(), limit)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if len(resp.Classifications) == 0 {
				fmt.Fprintln(stdout, "No classification records")
				return nil
			}

			rows := make([][]string, 0, len(resp.Classifications))
			for _, record := range resp.Classifications {
				rows = append(rows, []string{
					strconv.FormatUint(record.ObjectID, 10),
					displayCategory(record.Category),
					fmt.Sprintf("%.2f", record.Confidence),
					fallbackMark(record.Fallback),
					diversionOutcome(record),
					record.DetectedAt.Local().Format(timestampLayout),
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Object", "Category", "Confidence", "Fallback", "Diverted", "Detected"},
				rows,
				0, 2,
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show")
	return cmd
}

func fallbackMark(fallback bool) string {
	if fallback {
		return "yes"
	}
	return ""
}

func diversionOutcome(record store.Classification) string {
	switch {
	case record.Diverted == nil:
		return "pending"
	case *record.Diverted:
		return "yes"
	case record.DiversionError != "":
		return "failed: " + record.DiversionError
	default:
		return "no"
	}
}

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent system events",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Events(cmd.Context(), limit)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if len(resp.Events) == 0 {
				fmt.Fprintln(stdout, "No events recorded")
				return nil
			}

			rows := make([][]string, 0, len(resp.Events))
			for _, event := range resp.Events {
				rows = append(rows, []string{
					event.CreatedAt.Local().Format(timestampLayout),
					event.Severity,
					event.Component,
					event.EventType,
					event.Message,
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Time", "Severity", "Component", "Event", "Message"},
				rows,
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum events to show")
	return cmd
}

func newAlertsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show recent host health alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Alerts(cmd.Context(), limit)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if len(resp.Alerts) == 0 {
				fmt.Fprintln(stdout, "No health alerts")
				return nil
			}

			rows := make([][]string, 0, len(resp.Alerts))
			for _, alert := range resp.Alerts {
				rows = append(rows, []string{
					alert.At.Local().Format(timestampLayout),
					string(alert.Kind),
					fmt.Sprintf("%.1f", alert.Value),
					alert.Message,
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Time", "Kind", "Value", "Message"},
				rows,
				2,
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum alerts to show")
	return cmd
}

func newRecoveryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recovery",
		Short: "Show recent fault recovery attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.RecoveryHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if len(resp.Attempts) == 0 {
				fmt.Fprintln(stdout, "No recovery attempts recorded")
				return nil
			}

			rows := make([][]string, 0, len(resp.Attempts))
			for _, attempt := range resp.Attempts {
				outcome := "failed"
				if attempt.Recovered {
					outcome = "recovered"
				}
				detail := attempt.Message
				if attempt.Detail != "" {
					detail = attempt.Detail
				}
				rows = append(rows, []string{
					attempt.At.Local().Format(timestampLayout),
					string(attempt.Kind),
					outcome,
					detail,
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Time", "Kind", "Outcome", "Detail"},
				rows,
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum attempts to show")
	return cmd
}
