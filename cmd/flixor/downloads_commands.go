package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"flixor/internal/media"
	"flixor/internal/state"
)

func newDownloadsCommand(ctx *commandContext) *cobra.Command {
	downloadsCmd := &cobra.Command{
		Use:     "downloads",
		Aliases: []string{"dl"},
		Short:   "Inspect and control the download queue",
	}

	downloadsCmd.AddCommand(newDownloadsListCommand(ctx))
	downloadsCmd.AddCommand(newDownloadsQueueCommand(ctx))
	downloadsCmd.AddCommand(newTransitionCommand(ctx, "pause", "Pause a queued or active download"))
	downloadsCmd.AddCommand(newTransitionCommand(ctx, "resume", "Resume a paused download at the head of the queue"))
	downloadsCmd.AddCommand(newTransitionCommand(ctx, "cancel", "Cancel a download"))
	downloadsCmd.AddCommand(newTransitionCommand(ctx, "retry", "Retry a failed download"))
	downloadsCmd.AddCommand(newDownloadsRemoveCommand(ctx))

	return downloadsCmd
}

func newDownloadsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tracked downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshots, err := ctx.client().ListDownloads(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, snapshots)
			}

			rows := make([][]string, 0, len(snapshots))
			for _, snapshot := range snapshots {
				rows = append(rows, snapshotRow(snapshot))
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Key", "Kind", "Title", "Status", "Progress", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newDownloadsQueueCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show pending items in drain order",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := ctx.client().Queue(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, items)
			}

			rows := make([][]string, 0, len(items))
			for i, item := range items {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					item.GlobalKey,
					string(item.Kind),
					item.EnqueuedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Key", "Kind", "Enqueued"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newTransitionCommand(ctx *commandContext, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <global-key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := ctx.client().Transition(cmd.Context(), args[0], verb)
			if err != nil {
				return err
			}
			status := "unknown"
			if snapshot != nil && snapshot.Media != nil {
				status = string(snapshot.Media.Status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], status)
			return nil
		},
	}
}

func newDownloadsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <global-key>",
		Short: "Remove a download and delete its local files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.client().Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func snapshotRow(snapshot *state.Snapshot) []string {
	title := ""
	kind := ""
	if snapshot.Metadata != nil {
		kind = string(snapshot.Metadata.Kind)
		title = snapshot.Metadata.Title
		if snapshot.Metadata.Kind == media.KindEpisode && snapshot.Metadata.ShowTitle != "" {
			title = fmt.Sprintf("%s S%02dE%02d %s",
				snapshot.Metadata.ShowTitle,
				snapshot.Metadata.SeasonNumber,
				snapshot.Metadata.EpisodeNumber,
				snapshot.Metadata.Title,
			)
		}
	}

	status := ""
	progress := ""
	size := ""
	if snapshot.Media != nil {
		status = string(snapshot.Media.Status)
		progress = fmt.Sprintf("%.1f%%", snapshot.Media.Progress)
		if snapshot.Media.BytesTotal > 0 {
			size = formatBytes(snapshot.Media.BytesTotal)
		}
	}
	if snapshot.Progress != nil && snapshot.Progress.Status == media.StatusDownloading {
		progress = fmt.Sprintf("%.1f%%", snapshot.Progress.Percent)
	}

	return []string{snapshot.GlobalKey, kind, title, status, progress, size}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
