package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/aslmdev/Crevion-Helper-Bot/crevion"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Connects the bot to Discord and starts the admin API and challenge schedule",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := crevion.New(cfg)
		if err != nil {
			log.Fatalf("error creating bot: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running bot: %s", err.Error())
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
