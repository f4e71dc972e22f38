// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package main is the entry point to the cloudbus event bus server and CLI.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "cloudbus",
	Short: "Cloudbus is a durable event bus with per-subscription delivery tracking.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serverCmd.RunE(cmd, args)
	},
	// SilenceErrors allows us to explicitly log the error returned from rootCmd below.
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		bindEnvConfig(cmd)
	},
}

// bindEnvConfig lets every flag be provided through the environment with
// a CLOUDBUS_ prefix, e.g. CLOUDBUS_DATABASE for --database. Flags given
// on the command line win over the environment.
func bindEnvConfig(cmd *cobra.Command) {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("CLOUDBUS")
	viper.AutomaticEnv()
	_ = viper.BindPFlags(cmd.PersistentFlags())
	_ = viper.BindPFlags(cmd.Flags())

	// Values are read back through the flag set, which never consults
	// viper, so copy environment values onto any flag left unset.
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed && viper.IsSet(f.Name) {
			_ = cmd.Flags().Set(f.Name, fmt.Sprintf("%v", viper.Get(f.Name)))
		}
	})
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(schemaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
