package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"sortline/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show line state, components, and throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			metricsResp, err := client.Metrics(cmd.Context())
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Line", colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, renderStatusLine("State", stateKind(status.State), status.State, colorize))
			if status.LastFault != "" {
				fmt.Fprintln(stdout, renderStatusLine("Last fault", statusWarn, status.LastFault, colorize))
			}
			fmt.Fprintln(stdout, renderStatusLine("Emergency stop", boolKind(!status.EmergencyStop), engagedLabel(status.EmergencyStop), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Queue depth", statusInfo, strconv.Itoa(status.QueueDepth), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Active diversions", statusInfo, strconv.Itoa(len(status.ActiveDiversions)), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Camera monitor", boolKind(status.CameraMonitor), activeLabel(status.CameraMonitor), colorize))
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Components", colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Component", "State"},
				sortedPairRows(status.Components, nil),
			))
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Diverters", colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Diverter", "State"},
				sortedPairRows(status.Diverters, displayCategory),
			))

			if len(status.BinLevels) > 0 {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Bins", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"Bin", "Fill"},
					binLevelRows(status.BinLevels),
					1,
				))
			}

			fmt.Fprintln(stdout)
			printThroughput(stdout, metricsResp, colorize)
			return nil
		},
	}
}

func printThroughput(stdout io.Writer, resp *api.MetricsResponse, colorize bool) {
	for _, line := range renderSectionHeader("Throughput", colorize) {
		fmt.Fprintln(stdout, line)
	}
	pipeline := resp.Pipeline
	fmt.Fprintln(stdout, renderStatusLine("Uptime", statusInfo, pipeline.Uptime.Round(time.Second).String(), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Objects", statusInfo,
		fmt.Sprintf("%d processed (%.1f/min)", pipeline.ObjectsProcessed, pipeline.ObjectsPerMinute), colorize))
	if pipeline.AvgProcessingMS > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Processing", statusInfo,
			fmt.Sprintf("%.1f ms avg", pipeline.AvgProcessingMS), colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("Diversions", statusInfo,
		fmt.Sprintf("%d ok, %d failed, %d rejected", pipeline.DiversionsOK, pipeline.DiversionsFailed, pipeline.DiversionsRejected), colorize))
	if pipeline.CaptureFailures > 0 || pipeline.ClassifyFailures > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Failures", statusWarn,
			fmt.Sprintf("%d capture, %d classify", pipeline.CaptureFailures, pipeline.ClassifyFailures), colorize))
	}
	if pipeline.FaultsRecovered > 0 || pipeline.FaultsUnrecovered > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Faults", statusWarn,
			fmt.Sprintf("%d recovered, %d unrecovered", pipeline.FaultsRecovered, pipeline.FaultsUnrecovered), colorize))
	}

	if len(pipeline.ByCategory) > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, renderTable(
			[]string{"Category", "Count"},
			categoryRows(pipeline.ByCategory),
			1,
		))
	}

	fmt.Fprintln(stdout)
	for _, line := range renderSectionHeader("Host", colorize) {
		fmt.Fprintln(stdout, line)
	}
	latest := resp.System.Latest
	fmt.Fprintln(stdout, renderStatusLine("CPU", statusInfo, fmt.Sprintf("%.1f%%", latest.CPUPercent), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Memory", statusInfo, fmt.Sprintf("%.1f%%", latest.MemoryPercent), colorize))
	if latest.TemperatureC > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Temperature", statusInfo, fmt.Sprintf("%.1f C", latest.TemperatureC), colorize))
	}
	if resp.System.ActiveAlerts > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Alerts", statusWarn,
			fmt.Sprintf("%d active (see `sortline alerts`)", resp.System.ActiveAlerts), colorize))
	}
}

func stateKind(state string) statusKind {
	switch state {
	case "running":
		return statusOK
	case "paused", "maintenance", "recovering":
		return statusWarn
	case "error", "shutdown":
		return statusError
	default:
		return statusInfo
	}
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusWarn
}

func engagedLabel(engaged bool) string {
	if engaged {
		return "ENGAGED"
	}
	return "clear"
}

func activeLabel(active bool) string {
	if active {
		return "active"
	}
	return "disabled"
}

func sortedPairRows(values map[string]string, keyFormat func(string) string) [][]string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		label := key
		if keyFormat != nil {
			label = keyFormat(key)
		}
		rows = append(rows, []string{label, values[key]})
	}
	return rows
}

func binLevelRows(levels map[string]float64) [][]string {
	keys := make([]string, 0, len(levels))
	for key := range levels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{displayCategory(key), fmt.Sprintf("%.0f%%", levels[key])})
	}
	return rows
}

func categoryRows(counts map[string]uint64) [][]string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{displayCategory(key), strconv.FormatUint(counts[key], 10)})
	}
	return rows
}
