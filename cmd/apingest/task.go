package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loykin/apingest"
	"github.com/loykin/apingest/internal/constants"
	"github.com/loykin/apingest/internal/env"
	"github.com/spf13/viper"
)

// loadTask reads the task named by --config and applies command-line overrides.
func loadTask(v *viper.Viper) (*apingest.Task, error) {
	vars, err := env.ParseAssignments(v.GetStringSlice("set"))
	if err != nil {
		return nil, fmt.Errorf("--set: %w", err)
	}
	task, err := apingest.LoadTask(v.GetString("config"), vars)
	if err != nil {
		return nil, err
	}
	if lvl := strings.TrimSpace(v.GetString("log_level")); lvl != "" {
		task.Logging.Level = lvl
	}
	if f := strings.TrimSpace(v.GetString("log_format")); f != "" {
		task.Logging.Format = f
	}
	if err := task.Logging.SetupLogging(); err != nil {
		return nil, err
	}

	overridden := false
	if out := strings.TrimSpace(v.GetString("output")); out != "" {
		task.Output.Type = strings.ToLower(out)
		overridden = true
	}
	if p := strings.TrimSpace(v.GetString("output_path")); p != "" {
		task.Output.Path = p
		overridden = true
	}
	if overridden {
		if task.Output.Type == "sqlite" && task.Output.Path == "" {
			task.Output.Path = constants.DefaultSQLiteFile
		}
		if err := task.Validate(); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// runName labels a run: --name, else the config file name without extension.
func runName(v *viper.Viper, name string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	base := filepath.Base(v.GetString("config"))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
