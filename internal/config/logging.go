package config

import (
	"fmt"
	"strings"

	"github.com/loykin/apingest/internal/common"
)

// ParseLogLevel maps error, warn, info and debug; empty means info.
func ParseLogLevel(s string) (common.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return common.LogLevelError, nil
	case "warn", "warning":
		return common.LogLevelWarn, nil
	case "info", "":
		return common.LogLevelInfo, nil
	case "debug":
		return common.LogLevelDebug, nil
	default:
		return common.LogLevelInfo, fmt.Errorf("invalid logging level: %s (valid: error, warn, info, debug)", s)
	}
}

// NewLogger builds the logger described by the logging section.
func (l LoggingConfig) NewLogger() (*common.Logger, error) {
	level, err := ParseLogLevel(l.Level)
	if err != nil {
		return nil, err
	}

	format := strings.ToLower(strings.TrimSpace(l.Format))
	useColor := format == "color" || format == "colour"
	if l.Color != nil {
		useColor = *l.Color
	}

	var logger *common.Logger
	switch format {
	case "json":
		logger = common.NewJSONLogger(level)
	case "color", "colour", "text", "":
		if useColor {
			logger = common.NewColorLogger(level)
			// an explicit color: true also colors output that is not a terminal
			if ch, ok := logger.Handler().(*common.ColorHandler); ok && l.Color != nil {
				ch.SetColorEnabled(true)
			}
		} else {
			logger = common.NewLogger(level)
		}
	default:
		return nil, fmt.Errorf("invalid logging format: %s (valid: text, json, color)", l.Format)
	}

	masking := true
	if l.MaskSensitive != nil {
		masking = *l.MaskSensitive
	}
	logger.EnableMasking(masking)
	return logger, nil
}

// SetupLogging installs the configured logger as the process default.
func (l LoggingConfig) SetupLogging() error {
	logger, err := l.NewLogger()
	if err != nil {
		return err
	}
	common.SetDefaultLogger(logger)
	common.EnableMasking(l.MaskSensitive == nil || *l.MaskSensitive)
	logger.Debug("logging configured", "level", logger.Level().String(), "format", l.Format, "mask_sensitive", common.IsMaskingEnabled())
	return nil
}
