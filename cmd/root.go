package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "sessionauth",
		Short:         "sessionauth CLI",
		Long:          "CLI for sessionauth schema, user, and token operations.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of the sessionauth CLI",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newTokenCommand())
	root.AddCommand(newUserCommand())

	return root
}

func Execute() error {
	return rootCmd.Execute()
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// firstNonEmpty returns the flag value, else the first set environment key.
func firstNonEmpty(flagValue string, envKeys ...string) string {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value
	}
	for _, key := range envKeys {
		if value := lookupEnv(key); value != "" {
			return value
		}
	}
	return ""
}
