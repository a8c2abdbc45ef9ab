package main

import (
	"context"
	"errors"
	stdlog "log"
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	config string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "dytrust",
		Short: "Certificate chain validation at a control time",
	}
	root.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "The path of configuration.")
	if err := root.MarkPersistentFlagRequired("config"); err != nil {
		stdlog.Fatal(err)
	}

	root.AddCommand(
		newConfigCmd(flags),
		newValidateCmd(flags),
		newServeCmd(flags),
	)

	return root
}

// newConfigCmd only verifies the configuration. It exits with 1 when the
// configuration has errors.
func newConfigCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:          "config",
		Short:        "Only verify the configuration",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, errs := loadConfig(root.config); errs != nil {
				return errors.Join(errs...)
			}
			cmd.Println("Validation Success.")
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
