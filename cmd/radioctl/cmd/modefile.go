package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jhunley/ka9q-radio/internal/modefile"
)

var modefileCmd = &cobra.Command{
	Use:   "modefile <file>",
	Short: "inspect a mode-file preset library",
	Args:  cobra.ExactArgs(1),
	RunE:  runModefile,
}

var modefileLookup string

func init() {
	modefileCmd.Flags().StringVar(&modefileLookup, "preset", "", "print only this preset's full parameters")
}

func runModefile(cmd *cobra.Command, args []string) error {
	path := args[0]
	verbosef("reading mode-file %s", path)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("radioctl: %w", err)
	}
	defer f.Close()

	lib, err := modefile.Read(f)
	if err != nil {
		return fmt.Errorf("radioctl: %w", err)
	}

	if modefileLookup != "" {
		p, err := lib.Lookup(modefileLookup)
		if err != nil {
			return fmt.Errorf("radioctl: %w", err)
		}
		printPreset(p)
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMINIF\tMAXIF\tISB\tCHANNELS\tPLL\tAGC")
	for _, p := range lib.Presets {
		fmt.Fprintf(tw, "%s\t%.0f\t%.0f\t%v\t%d\t%v\t%v\n",
			p.Name, p.MinIF, p.MaxIF, p.ISB, p.Channels, p.PLL, p.AGC)
	}
	return tw.Flush()
}

func printPreset(p modefile.Preset) {
	fmt.Printf("name:          %s\n", p.Name)
	fmt.Printf("min_if:        %.1f\n", p.MinIF)
	fmt.Printf("max_if:        %.1f\n", p.MaxIF)
	fmt.Printf("kaiser_beta:   %.2f\n", p.KaiserBeta)
	fmt.Printf("isb:           %v\n", p.ISB)
	fmt.Printf("channels:      %d\n", p.Channels)
	fmt.Printf("output_rate:   %.0f\n", p.OutputRate)
	fmt.Printf("headroom:      %.3f\n", p.Headroom)
	fmt.Printf("threshold:     %.3f\n", p.Threshold)
	fmt.Printf("recovery_rate: %.3f\n", p.RecoveryRate)
	fmt.Printf("hang_time_s:   %.2f\n", p.HangTimeSec)
	fmt.Printf("loop_bw:       %.2f\n", p.LoopBW)
	fmt.Printf("damping:       %.3f\n", p.Damping)
	fmt.Printf("lock_time_s:   %.2f\n", p.LockTimeSec)
	fmt.Printf("squelch_open:  %.3f\n", p.SquelchOpen)
	fmt.Printf("squelch_close: %.3f\n", p.SquelchClose)
	fmt.Printf("pll:           %v\n", p.PLL)
	fmt.Printf("square:        %v\n", p.Square)
	fmt.Printf("env:           %v\n", p.Env)
	fmt.Printf("agc:           %v\n", p.AGC)
}
