package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wlu03/story-to-scene-magic-08/models"
)

var (
	storyColumns = []column{
		{title: "ID"},
		{title: "Title"},
		{title: "Stage"},
		{title: "Progress", numeric: true},
		{title: "Scenes", numeric: true},
		{title: "Created"},
	}
	sceneColumns = []column{
		{title: "Scene", numeric: true},
		{title: "Status"},
		{title: "Last error"},
	}
)

func newStoriesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stories",
		Short: "Inspect and manage stories",
	}
	cmd.AddCommand(newStoriesListCommand(ctx))
	cmd.AddCommand(newStoriesStatusCommand(ctx))
	cmd.AddCommand(newStoriesResumeCommand(ctx))
	cmd.AddCommand(newStoriesDeleteCommand(ctx))
	return cmd
}

func newStoriesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stories, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd.Context(), modeCLI)
			if err != nil {
				return err
			}
			defer a.Close()

			stories, err := a.orch.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(stories) == 0 {
				fmt.Fprintln(out, "No stories")
				return nil
			}
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(stories))
			for _, s := range stories {
				rows = append(rows, []string{
					s.ID,
					s.Title,
					stageLabel(s.Stage, colorize),
					fmt.Sprintf("%d%%", models.Progress(s.Stage, s.FailedStage, s.Segments)),
					strconv.Itoa(len(s.Segments)),
					s.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(out, renderTable(storyColumns, rows, colorize))
			return nil
		},
	}
}

func newStoriesStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <story-id>",
		Short: "Show pipeline progress and per-scene status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd.Context(), modeCLI)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.orch.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintf(out, "Story:    %s\n", view.StoryID)
			fmt.Fprintf(out, "Stage:    %s\n", stageLabel(view.Stage, colorize))
			fmt.Fprintf(out, "Progress: %d%%\n", view.ProgressPercent)
			if view.CurrentStep != "" {
				fmt.Fprintf(out, "Step:     %s\n", view.CurrentStep)
			}
			if view.TerminalError != "" {
				fmt.Fprintf(out, "Error:    %s\n", view.TerminalError)
			}
			if len(view.Segments) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(view.Segments))
			for _, seg := range view.Segments {
				rows = append(rows, []string{strconv.Itoa(seg.ID), segmentLabel(seg.Status, colorize), seg.LastError})
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderTable(sceneColumns, rows, colorize))
			return nil
		},
	}
}

func newStoriesResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <story-id>",
		Short: "Resume a failed story from the stage that failed",
		Long: "Resume a failed story from the stage that failed. With queue.mode inline " +
			"the run happens in this process and the command waits for it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd.Context(), modeCLI)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.orch.Resume(cmd.Context(), args[0]); err != nil {
				return err
			}
			if a.inline != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Resumed %s; running here until it finishes\n", args[0])
				a.inline.Wait()
				view, err := a.orch.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Finished at stage %s (%d%%)\n", view.Stage, view.ProgressPercent)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resumed %s; queued for a worker\n", args[0])
			return nil
		},
	}
}

func newStoriesDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <story-id>",
		Short: "Delete a story and its media",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd.Context(), modeCLI)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.orch.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
