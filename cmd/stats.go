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
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/hitzhangjie/dumpsyms/pkg/module"
	"github.com/hitzhangjie/dumpsyms/pkg/symbol"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats <binary>",
	Short: "summarize what the symbol file of a binary would hold",
	Long: `Summarize what the symbol file of a binary would hold: its source files,
functions, lines, externs and CFI entries, and the warnings reading its
DWARF gave, by kind. The summary is printed as YAML.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var tally symbol.Tally
		opts, err := loadOptions(module.SymbolsAndCFI, &tally)
		if err != nil {
			return err
		}

		m, err := load(cmd.Context(), afs.New(), args[0], opts)
		if err != nil {
			return err
		}
		return writeStats(os.Stdout, args[0], m, &tally)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

type stats struct {
	Input      string           `yaml:"input"`
	Module     string           `yaml:"module"`
	ID         string           `yaml:"id"`
	Arch       string           `yaml:"arch"`
	Files      int              `yaml:"files"`
	Functions  int              `yaml:"functions"`
	Lines      int              `yaml:"lines"`
	Externs    int              `yaml:"externs"`
	CFIEntries int              `yaml:"cfi_entries"`
	Warnings   map[string]int64 `yaml:"warnings"`
}

func newStats(input string, m *module.Module, tally *symbol.Tally) *stats {
	m.AssignSourceIds()

	s := &stats{
		Input:      input,
		Module:     m.Name(),
		ID:         m.ID(),
		Arch:       m.Arch(),
		Functions:  len(m.Functions()),
		Externs:    len(m.Externs()),
		CFIEntries: len(m.StackFrameEntries()),
		Warnings:   tally.Counts(),
	}
	for _, f := range m.Files() {
		if f.SourceID >= 0 {
			s.Files++
		}
	}
	for _, fn := range m.Functions() {
		s.Lines += len(fn.Lines)
	}
	return s
}

func writeStats(w io.Writer, input string, m *module.Module, tally *symbol.Tally) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(newStats(input, m, tally)); err != nil {
		return errors.Wrap(err, "encode stats")
	}
	return enc.Close()
}
