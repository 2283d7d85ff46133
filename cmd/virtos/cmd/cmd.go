// Package cmd builds the virtos CLI: a cobra command tree wiring
// internal/config, internal/loader, internal/mem, and internal/osx
// together, grounded on arctir-proctor's cmd package for the
// package-level-command-vars-plus-SetupCLI shape.
package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/virtos/virtos/internal/config"
	"github.com/virtos/virtos/internal/cpu"
	"github.com/virtos/virtos/internal/diag"
	"github.com/virtos/virtos/internal/loader"
	"github.com/virtos/virtos/internal/mem"
	"github.com/virtos/virtos/internal/osx"
)

var (
	configPath    string
	virtualMemory int
	dumpFinal     bool
	dumpProgram   bool
	profilePath   string
)

var virtosCmd = &cobra.Command{
	Use:   "virtos [programFile...]",
	Short: "A cooperative scheduler, paged virtual memory manager, and register-machine interpreter.",
	// The bare form, `virtos <virtualMemoryBytes> <programFile...>`, is
	// kept for scripts written against the original command line: a
	// leading numeric argument is the virtual memory size instead of a
	// program file.
	Args: cobra.MinimumNArgs(1),
	RunE: runVirtos,
}

var runCmd = &cobra.Command{
	Use:   "run [programFile...]",
	Short: "Assemble and run one or more programs to completion.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runVirtos,
}

// SetupCLI builds the command tree and returns its root.
func SetupCLI() *cobra.Command {
	for _, c := range []*cobra.Command{virtosCmd, runCmd} {
		c.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
		c.Flags().IntVarP(&virtualMemory, "virtual-memory", "m", 0, "total virtual address space in bytes (overrides config)")
		c.Flags().BoolVar(&dumpFinal, "dump", false, "dump the process table once every program has terminated")
		c.Flags().BoolVar(&dumpProgram, "dump-program", false, "disassemble each loaded program to stdout before running it")
		c.Flags().StringVar(&profilePath, "profile", "", "write a pprof scheduling profile to this path")
	}
	virtosCmd.AddCommand(runCmd)
	return virtosCmd
}

// runVirtos is shared by the root command's legacy invocation and the
// explicit `run` subcommand.
func runVirtos(cmd *cobra.Command, args []string) error {
	programFiles := args
	if n, err := strconv.Atoi(args[0]); err == nil && len(args) > 1 {
		virtualMemory = n
		programFiles = args[1:]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	virtualSize := virtualMemory
	if virtualSize <= 0 {
		virtualSize = cfg.PhysicalMemory
	}

	clock := &cpu.MonotonicClock{}
	mm, err := mem.NewManager(mem.Config{
		VirtualSize:      virtualSize,
		PhysicalSize:     cfg.PhysicalMemory,
		PageSize:         cfg.PageSize,
		SharedRegionSize: cfg.SharedRegionSize,
		NumSharedRegions: cfg.NumSharedRegions,
		SwapDir:          cfg.SwapDir,
	}, clock)
	if err != nil {
		return err
	}

	ld := loader.NewFileLoader()
	kernel := osx.New(mm, osx.Config{DataSize: cfg.DataSegmentSize, StackSize: cfg.StackSegmentSize}, os.Stdin, os.Stdout)

	prof := diag.NewSwitchProfile()
	if profilePath != "" {
		kernel.OnDispatch = prof.RecordDispatch
	}

	var loadErrs *multierror.Error
	for _, file := range programFiles {
		image, err := ld.Load(file)
		if err != nil {
			loadErrs = multierror.Append(loadErrs, fmt.Errorf("%s: %w", file, err))
			continue
		}
		if dumpProgram {
			fmt.Fprintf(cmd.OutOrStdout(), "-- %s --\n", file)
			diag.DumpProgram(cmd.OutOrStdout(), image)
		}
		if _, err := kernel.CreateProcess(image, virtualSize); err != nil {
			return err
		}
	}
	if loadErrs != nil && len(kernel.Processes()) == 0 {
		return loadErrs.ErrorOrNil()
	}
	if loadErrs != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), loadErrs)
	}

	if err := kernel.Run(); err != nil {
		return err
	}

	if dumpFinal {
		diag.DumpProcessTable(cmd.OutOrStdout(), kernel.Processes(), mm)
	}
	if profilePath != "" {
		f, err := os.Create(profilePath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := prof.Write(f); err != nil {
			return err
		}
	}
	return nil
}
