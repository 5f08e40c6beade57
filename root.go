package main

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	"github.com/wlu03/story-to-scene-magic-08/config"
)

// commandContext loads the configuration once per invocation.
type commandContext struct {
	configFlag *string

	once sync.Once
	cfg  *config.Config
	err  error
}

func (c *commandContext) config() (*config.Config, error) {
	c.once.Do(func() {
		c.cfg, c.err = config.Load(*c.configFlag)
	})
	return c.cfg, c.err
}

func (c *commandContext) open(ctx context.Context, mode appMode) (*app, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, mode)
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "storyforge",
		Short:         "Turn stories into illustrated, narrated scenes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.config()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "config/config.yaml", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newWorkerCommand(ctx))
	rootCmd.AddCommand(newStoriesCommand(ctx))
	return rootCmd
}
