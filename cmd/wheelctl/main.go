package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"maze.io/x/duration"

	"github.com/ts4z/spinwheel/config"
)

var (
	entriesFile string
	seed        uint64
	spins       int

	spinOpts = spinOptions{
		duration: 3 * time.Second,
		grace:    2 * time.Second,
	}
)

// durationFlag parses a Go duration into dst, falling back to
// maze.io/x/duration for days and weeks.
func durationFlag(dst *time.Duration) func(string) error {
	return func(s string) error {
		if d, err := time.ParseDuration(s); err == nil {
			*dst = d
			return nil
		}
		d, err := duration.ParseDuration(s)
		if err != nil {
			return err
		}
		*dst = time.Duration(d)
		return nil
	}
}

func spinCommand(cmd *cobra.Command, args []string) error {
	list, err := readEntries(args, entriesFile, os.Stdin)
	if err != nil {
		return err
	}
	spinOpts.seed = seed
	spinOpts.live = term.IsTerminal(int(os.Stdout.Fd()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return runSpin(ctx, clockwork.NewRealClock(), cmd.OutOrStdout(), list, &spinOpts)
}

func simulateCommand(cmd *cobra.Command, args []string) error {
	list, err := readEntries(args, entriesFile, os.Stdin)
	if err != nil {
		return err
	}
	return runSimulate(cmd.OutOrStdout(), list, spins, seed)
}

func segmentsCommand(cmd *cobra.Command, args []string) error {
	list, err := readEntries(args, entriesFile, os.Stdin)
	if err != nil {
		return err
	}
	return runSegments(cmd.OutOrStdout(), list)
}

func main() {
	config.Init()
	spinOpts.duration = config.DefaultSpinDuration()
	spinOpts.grace = config.GraceDelay()

	rootCmd := &cobra.Command{
		Short: "Spin a wheel of names from the terminal",
		Use:   "wheelctl",
	}
	rootCmd.PersistentFlags().StringVarP(&entriesFile, "file", "f", "", "Read entries from a file, one per line (- for stdin)")
	rootCmd.PersistentFlags().Uint64Var(&seed, "seed", 0, "Seed for a repeatable spin (0 means truly random)")

	spinCmd := &cobra.Command{
		Use:   "spin [entries...]",
		Short: "Spin once and print the winner",
		RunE:  spinCommand,
	}
	spinCmd.Flags().Func("duration", "How long the spin lasts (e.g. 3s, 2500ms)", durationFlag(&spinOpts.duration))
	spinCmd.Flags().Func("grace", "How long to show the winner before removing it", durationFlag(&spinOpts.grace))
	spinCmd.Flags().BoolVar(&spinOpts.removeWinner, "remove-winner", false, "Remove the winner from the list afterwards")

	simulateCmd := &cobra.Command{
		Use:   "simulate [entries...]",
		Short: "Spin many times and check the winners are uniform",
		RunE:  simulateCommand,
	}
	simulateCmd.Flags().IntVar(&spins, "spins", 10000, "Number of spins")

	segmentsCmd := &cobra.Command{
		Use:   "segments [entries...]",
		Short: "Print the angle each entry covers",
		RunE:  segmentsCommand,
	}

	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Print new cookie keys for the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKeys(cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(spinCmd, simulateCmd, segmentsCmd, keysCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
