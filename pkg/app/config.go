package app

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/devgate/pkg/log"
)

const configFlagName = "config"

var cfgFile string

func addConfigFlag(basename string, fs *pflag.FlagSet) {
	fs.StringVarP(&cfgFile, configFlagName, "c", cfgFile,
		fmt.Sprintf("Read configuration from file. Keys mirror flag names, e.g. mqtt.broker. Environment variables %s_<KEY> override it.",
			strings.ToUpper(strings.ReplaceAll(basename, "-", "_"))))
}

// loadConfig merges flags, the config file and environment variables into
// opts. Explicit flags win over the environment, which wins over the file.
func loadConfig(cmd *cobra.Command, envPrefix string, opts any, useFile bool) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if useFile && cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read configuration file %q: %w", cfgFile, err)
		}
		watchLogLevel(v)
	}

	if err := v.Unmarshal(opts); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return nil
}

// watchLogLevel applies log.level changes from the config file without a
// restart. Other keys need a restart.
func watchLogLevel(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := v.GetString("log.level")
		if level == "" || level == log.Level() {
			return
		}
		log.SetLevel(level)
		log.Info("Log level changed", "level", level, "file", e.Name)
	})
	v.WatchConfig()
}
