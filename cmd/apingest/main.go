package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:           "apingest",
	Short:         "Ingest rows from paginated HTTP JSON APIs described in a YAML task",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runIngest,
}

func init() {
	v := viper.GetViper()
	v.SetDefault("config", "./task.yaml")
	v.SetDefault("log_level", "")
	v.SetDefault("log_format", "")
	v.SetDefault("output", "")
	v.SetDefault("output_path", "")
	v.SetDefault("name", "")
	v.SetDefault("set", []string{})

	// Environment variables support: APINGEST_CONFIG, APINGEST_OUTPUT, ...
	v.SetEnvPrefix("APINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	pf := rootCmd.PersistentFlags()
	pf.String("config", v.GetString("config"), "path to the task yaml")
	pf.String("log-level", v.GetString("log_level"), "override logging.level (error, warn, info, debug)")
	pf.String("log-format", v.GetString("log_format"), "override logging.format (text, json, color)")
	pf.String("output", v.GetString("output"), "override output.type (stdout, jsonl, sqlite, postgres)")
	pf.String("output-path", v.GetString("output_path"), "override output.path")
	pf.StringArray("set", nil, "set a template variable, name=value (repeatable, overrides the env list)")

	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		c.Flags().String("name", v.GetString("name"), "label recorded with the run (default: config file name)")
	}

	_ = v.BindPFlag("config", pf.Lookup("config"))
	_ = v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = v.BindPFlag("log_format", pf.Lookup("log-format"))
	_ = v.BindPFlag("output", pf.Lookup("output"))
	_ = v.BindPFlag("output_path", pf.Lookup("output-path"))
	_ = v.BindPFlag("set", pf.Lookup("set"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exitHandler.LogFatalError(err, "command execution failed")
	}
}
