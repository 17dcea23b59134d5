package main

import (
	"fmt"

	"github.com/loykin/apingest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the task document and compile its expressions without sending requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		task, err := loadTask(v)
		if err != nil {
			return err
		}
		if err := apingest.Validate(task); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", v.GetString("config"))
		return nil
	},
}
