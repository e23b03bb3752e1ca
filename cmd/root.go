/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/viant/afs"

	"github.com/hitzhangjie/dumpsyms/pkg/module"
	"github.com/hitzhangjie/dumpsyms/pkg/symbol"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dumpsyms",
	Short: "write breakpad symbol files from DWARF debugging information",
	Long: `dumpsyms reads the DWARF debugging information and call frame information
of ELF binaries and writes them out as breakpad text symbol files: one
FILE record per source file, FUNC records with their line records, PUBLIC
records for exported functions and STACK CFI records.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dumpsyms.yaml)")
	flags.Bool("cfi", true, "read call frame information")
	flags.Bool("uncovered-warnings", false, "warn about functions without lines and lines without functions")
	flags.String("log-level", "warn", "lowest level of warnings printed: debug, info, warn or error")

	viper.BindPFlag("cfi", flags.Lookup("cfi"))
	viper.BindPFlag("uncovered_warnings", flags.Lookup("uncovered-warnings"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".dumpsyms" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".dumpsyms")
	}

	viper.SetEnvPrefix("dumpsyms")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger returns the logger warnings about the DWARF are written to.
func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log_level"))); err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// loadOptions builds the loader options from the configuration.
func loadOptions(mode module.WriteMode, tally *symbol.Tally) (symbol.Options, error) {
	logger, err := newLogger()
	if err != nil {
		return symbol.Options{}, err
	}
	return symbol.Options{
		CFI:               mode != module.SymbolsOnly,
		UncoveredWarnings: viper.GetBool("uncovered_warnings"),
		Logger:            logger,
		Tally:             tally,
	}, nil
}

// load reads the binary input names, a local path or an afs URL.
func load(ctx context.Context, fs afs.Service, input string, opts symbol.Options) (*module.Module, error) {
	if strings.Contains(input, "://") {
		return symbol.LoadURL(ctx, fs, input, opts)
	}
	return symbol.Load(input, opts)
}
