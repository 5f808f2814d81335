package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newMoviesCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "movies",
		Short: "List the downloaded movie library",
		RunE: func(cmd *cobra.Command, args []string) error {
			movies, err := ctx.client().Movies(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, movies)
			}

			rows := make([][]string, 0, len(movies))
			for _, movie := range movies {
				year := ""
				title := ""
				if movie.Metadata != nil {
					title = movie.Metadata.Title
					if movie.Metadata.Year > 0 {
						year = strconv.Itoa(movie.Metadata.Year)
					}
				}
				status := ""
				if movie.Media != nil {
					status = string(movie.Media.Status)
				}
				rows = append(rows, []string{movie.GlobalKey, title, year, status})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Key", "Title", "Year", "Status"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newShowsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "shows",
		Short: "List downloaded shows and their episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			shows, err := ctx.client().Shows(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, shows)
			}

			out := cmd.OutOrStdout()
			for _, show := range shows {
				fmt.Fprintf(out, "%s (%d downloaded)\n", show.Title, show.DownloadedCount)
				rows := make([][]string, 0, len(show.Episodes))
				for _, episode := range show.Episodes {
					code := ""
					title := ""
					if episode.Metadata != nil {
						code = fmt.Sprintf("S%02dE%02d", episode.Metadata.SeasonNumber, episode.Metadata.EpisodeNumber)
						title = episode.Metadata.Title
					}
					status := ""
					if episode.Media != nil {
						status = string(episode.Media.Status)
					}
					rows = append(rows, []string{code, title, status})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Episode", "Title", "Status"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
			}
			if len(shows) == 0 {
				fmt.Fprintln(out, "no shows downloaded")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newOfflineCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "offline",
		Short: "List items playable without a server connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := ctx.client().OfflineList(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, items)
			}

			rows := make([][]string, 0, len(items))
			for _, item := range items {
				title := ""
				if item.Metadata != nil {
					title = item.Metadata.Title
				}
				path := ""
				size := ""
				if item.Media != nil {
					path = item.Media.FilePath
					size = formatBytes(item.Media.BytesTotal)
				}
				markers := strconv.Itoa(len(item.Markers))
				rows = append(rows, []string{title, size, markers, path})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Title", "Size", "Markers", "Path"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}
