package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/hitzhangjie/dumpsyms/pkg/module"
	"github.com/hitzhangjie/dumpsyms/pkg/symbol"
)

func TestWriteMode(t *testing.T) {
	defer func() {
		viper.Set("cfi", true)
		viper.Set("cfi_only", false)
	}()

	type arg struct {
		cfi, cfiOnly bool
		mode         module.WriteMode
		err          bool
	}
	args := []arg{
		{cfi: true, mode: module.SymbolsAndCFI},
		{cfi: false, mode: module.SymbolsOnly},
		{cfi: true, cfiOnly: true, mode: module.CFIOnly},
		{cfi: false, cfiOnly: true, err: true},
	}
	for _, arg := range args {
		viper.Set("cfi", arg.cfi)
		viper.Set("cfi_only", arg.cfiOnly)

		mode, err := writeMode()
		if arg.err {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, arg.mode, mode, "cfi=%v cfi_only=%v", arg.cfi, arg.cfiOnly)
	}
}

func TestNewLogger(t *testing.T) {
	defer viper.Set("log_level", "warn")

	viper.Set("log_level", "debug")
	logger, err := newLogger()
	require.NoError(t, err)
	assert.True(t, logger.Enabled(context.Background(), -4))

	viper.Set("log_level", "loud")
	_, err = newLogger()
	assert.Error(t, err)
}

func TestWriteStats(t *testing.T) {
	m := module.New("a.out", "Linux", "x86_64", "000102030405060708090A0B0C0D0E0F0")
	used := m.FindFile("a.c")
	m.FindFile("unused.h")
	m.AddFunction(&module.Function{
		Name:    "main",
		Address: 0x1000,
		Size:    0x20,
		Lines: []module.Line{
			{Address: 0x1000, Size: 0x10, File: used, Number: 3},
			{Address: 0x1010, Size: 0x10, File: used, Number: 4},
		},
	})
	m.AddFunction(&module.Function{Name: "helper", Address: 0x2000, Size: 8})
	m.AddExtern(&module.Extern{Address: 0x3000, Name: "exported"})
	m.AddStackFrameEntry(&module.StackFrameEntry{Address: 0x1000, Size: 0x20})

	var tally symbol.Tally
	symbol.NewCountingReporter(nil, &tally).UncoveredFunction(m.Functions()[1])

	var buf bytes.Buffer
	require.NoError(t, writeStats(&buf, "bin/a.out", m, &tally))

	var got stats
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "bin/a.out", got.Input)
	assert.Equal(t, "a.out", got.Module)
	assert.Equal(t, "x86_64", got.Arch)
	assert.Equal(t, 1, got.Files)
	assert.Equal(t, 2, got.Functions)
	assert.Equal(t, 2, got.Lines)
	assert.Equal(t, 1, got.Externs)
	assert.Equal(t, 1, got.CFIEntries)
	assert.EqualValues(t, 1, got.Warnings["uncovered_function"])
	assert.EqualValues(t, 0, got.Warnings["unnamed_function"])
}

func TestDumpMissingBinary(t *testing.T) {
	err := dump(context.Background(), afs.New(), "/nonexistent/dumpsyms/a.out", "mem://localhost/out", module.SymbolsOnly, symbol.Options{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = dump(ctx, afs.New(), "/nonexistent/dumpsyms/a.out", "", module.SymbolsOnly, symbol.Options{})
	assert.Equal(t, context.Canceled, err)
}
