/*
   vcpu32: command-line entry point. The root command loads a
   configuration file, wires a machine via config/system, and drops
   into the interactive console (command/reader); asm/dis are
   one-shot subcommands that need no machine at all.

   Copyright (c) 2026, VCPU-32 Project Contributors
*/
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	configsystem "github.com/hff-git/vcpu32/config/system"

	config "github.com/hff-git/vcpu32/config/configparser"
	"github.com/hff-git/vcpu32/command/reader"
	asm "github.com/hff-git/vcpu32/emu/assemble"
	dis "github.com/hff-git/vcpu32/emu/disassemble"
	logger "github.com/hff-git/vcpu32/util/logger"
)

func main() {
	var configPath string
	var logPath string

	rootCmd := &cobra.Command{
		Use:   "vcpu32",
		Short: "vcpu32 -- cycle-accurate 32-bit CPU simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(configPath, logPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "vcpu32.cfg", "configuration file")
	rootCmd.Flags().StringVarP(&logPath, "log", "l", "", "log file (default: stderr)")

	asmCmd := &cobra.Command{
		Use:   "asm [instruction text]",
		Short: "assemble a single line of assembly and print the hex word",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			word, err := asm.Assemble(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Printf("%#08x\n", word)
			return nil
		},
	}

	disCmd := &cobra.Command{
		Use:   "dis [hex word]",
		Short: "disassemble a 32-bit instruction word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 32)
			if err != nil {
				return err
			}
			fmt.Println(dis.Disassemble(uint32(v)))
			return nil
		},
	}

	rootCmd.AddCommand(asmCmd, disCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runConsole(configPath, logPath string) error {
	file := os.Stderr
	if logPath != "" {
		var err error
		file, err = os.Create(logPath)
		if err != nil {
			return err
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	debug := false
	slog.SetDefault(slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel}, &debug)))

	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("configuration file %q: %w", configPath, err)
	}
	if err := config.LoadConfigFile(configPath); err != nil {
		return err
	}

	driver, err := configsystem.Build()
	if err != nil {
		return err
	}

	slog.Info("vcpu32 started", "config", configPath)
	reader.ConsoleReader(driver)
	return nil
}
