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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"golang.org/x/sync/errgroup"

	"github.com/hitzhangjie/dumpsyms/pkg/module"
	"github.com/hitzhangjie/dumpsyms/pkg/symbol"
)

// dumpCmd represents the dump command
var dumpCmd = &cobra.Command{
	Use:   "dump [flags] <binary>...",
	Short: "write the symbol file of each binary",
	Long: `Write the symbol file of each binary.

A single binary is dumped to stdout unless --output is given. Several
binaries need --output, a directory path or an afs URL; each one is written
there as <name>.sym. Binaries may be named by afs URLs as well.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := writeMode()
		if err != nil {
			return err
		}
		opts, err := loadOptions(mode, nil)
		if err != nil {
			return err
		}

		output := viper.GetString("output")
		if output == "" && len(args) > 1 {
			return errors.New("dumping several binaries needs --output")
		}

		jobs := viper.GetInt("jobs")
		if jobs < 1 {
			jobs = 1
		}

		fs := afs.New()
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(jobs)
		for _, input := range args {
			input := input
			g.Go(func() error {
				return dump(ctx, fs, input, output, mode, opts)
			})
		}
		return g.Wait()
	},
}

func init() {
	flags := dumpCmd.Flags()
	flags.Bool("cfi-only", false, "write only the STACK CFI records")
	flags.StringP("output", "o", "", "directory or afs URL the symbol files are written to")
	flags.IntP("jobs", "j", 4, "binaries dumped at once")

	viper.BindPFlag("cfi_only", flags.Lookup("cfi-only"))
	viper.BindPFlag("output", flags.Lookup("output"))
	viper.BindPFlag("jobs", flags.Lookup("jobs"))

	rootCmd.AddCommand(dumpCmd)
}

// writeMode picks the records to write from the cfi and cfi_only keys.
func writeMode() (module.WriteMode, error) {
	cfi, cfiOnly := viper.GetBool("cfi"), viper.GetBool("cfi_only")
	switch {
	case cfiOnly && !cfi:
		return 0, errors.New("--cfi-only contradicts --cfi=false")
	case cfiOnly:
		return module.CFIOnly, nil
	case cfi:
		return module.SymbolsAndCFI, nil
	default:
		return module.SymbolsOnly, nil
	}
}

// dump writes the symbol file of input to stdout if output is empty, or
// uploads it below output.
func dump(ctx context.Context, fs afs.Service, input, output string, mode module.WriteMode, opts symbol.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := load(ctx, fs, input, opts)
	if err != nil {
		return err
	}

	if output == "" {
		return writeModule(os.Stdout, m, mode)
	}

	var buf bytes.Buffer
	if err := writeModule(&buf, m, mode); err != nil {
		return err
	}
	dest := url.Join(url.Normalize(output, file.Scheme), m.Name()+".sym")
	if err := fs.Upload(ctx, dest, 0644, &buf); err != nil {
		return errors.Wrapf(err, "upload %s", dest)
	}
	fmt.Fprintf(os.Stderr, "%s: wrote %s\n", input, dest)
	return nil
}

func writeModule(w io.Writer, m *module.Module, mode module.WriteMode) error {
	if err := m.Write(w, mode); err != nil {
		return errors.Wrapf(err, "write symbols of %s", m.Name())
	}
	return nil
}
