package config

import (
	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
	"github.com/spf13/viper"

	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

// LogLevelHandler returns a handler that applies the level stored under key
// to the global logger. An empty value is ignored.
func LogLevelHandler(key string) ChangeHandler {
	return func(v *viper.Viper) error {
		text := v.GetString(key)
		if text == "" {
			return nil
		}
		level, err := core.ParseLevel(text)
		if err != nil {
			return errors.ErrConfig.WithMessagef("invalid %s %q", key, text).WithCause(err)
		}
		logger.Global().SetLevel(level)
		logger.Infow("Log level changed", "component", component, "level", level.String())
		return nil
	}
}
