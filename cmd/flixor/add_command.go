package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flixor/internal/media"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var (
		kindFlag      string
		title         string
		year          int
		summary       string
		imageRef      string
		showTitle     string
		parentID      string
		grandparentID string
		season        int
		episode       int
		duration      int64
	)

	cmd := &cobra.Command{
		Use:   "add <server-id> <content-id>",
		Short: "Enqueue a catalog item for download",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := media.ParseKind(kindFlag)
			if !ok {
				return fmt.Errorf("unknown content kind %q (use movie or episode)", kindFlag)
			}

			payload := map[string]any{
				"server_id":       args[0],
				"content_id":      args[1],
				"kind":            string(kind),
				"title":           title,
				"year":            year,
				"summary":         summary,
				"image_ref":       imageRef,
				"show_title":      showTitle,
				"parent_id":       parentID,
				"grandparent_id":  grandparentID,
				"season_number":   season,
				"episode_number":  episode,
				"duration_millis": duration,
			}

			snapshot, err := ctx.client().Enqueue(cmd.Context(), payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s\n", snapshot.GlobalKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", "movie", "Content kind: movie or episode")
	cmd.Flags().StringVar(&title, "title", "", "Item title")
	cmd.Flags().IntVar(&year, "year", 0, "Release year")
	cmd.Flags().StringVar(&summary, "summary", "", "Item summary")
	cmd.Flags().StringVar(&imageRef, "image", "", "Source image reference for artwork")
	cmd.Flags().StringVar(&showTitle, "show", "", "Show title (episodes)")
	cmd.Flags().StringVar(&parentID, "season-id", "", "Season identifier (episodes)")
	cmd.Flags().StringVar(&grandparentID, "show-id", "", "Show identifier (episodes)")
	cmd.Flags().IntVar(&season, "season", 0, "Season number (episodes)")
	cmd.Flags().IntVar(&episode, "episode", 0, "Episode number (episodes)")
	cmd.Flags().Int64Var(&duration, "duration-ms", 0, "Runtime in milliseconds")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}
