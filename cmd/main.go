package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"comfybatch/internal/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logrus.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

// options state shared by every subcommand
type options struct {
	v          *viper.Viper
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &options{v: viper.New()}

	root := &cobra.Command{
		Use:           "comfybatch",
		Short:         "Run directories of ComfyUI workflows against a generation server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "path to a YAML config file")
	flags.String("workflows", "", "directory holding the workflow JSON files")
	flags.String("log-dir", "", "directory of the per-workflow execution logs")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	bindFlags(opts.v, root, map[string]string{
		"batch.workflow_dir": "workflows",
		"batch.log_dir":      "log-dir",
		"log.level":          "log-level",
	})

	root.AddCommand(newRunCmd(opts), newUnprocessedCmd(opts))
	return root
}

// bindFlags binds config keys to flags of cmd, so flags set on the command
// line override the config file and the environment
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			flag = cmd.PersistentFlags().Lookup(name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			panic(fmt.Sprintf("bind flag --%s to %s: %v", name, key, err))
		}
	}
}

// load loads configuration and configures the global logger from it
func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.v, o.configFile)
	if err != nil {
		return nil, err
	}
	config.ConfigureGlobalLogger(cfg.Log.Level)
	if used := o.v.ConfigFileUsed(); used != "" {
		logrus.WithField("config_file", used).Info("Configuration loaded")
	}
	return cfg, nil
}
