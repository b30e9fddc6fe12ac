package main

// nqsim runs one queueing experiment described by a configuration
// file, and writes the trace and report the run produces.

import (
	"fmt"
	"os"

	"github.com/nqsim/nqsim"
	"github.com/spf13/cobra"
)

var (
	expFile    string
	traceFile  string
	reportFile string
	stopTime   float64
)

var rootCmd = &cobra.Command{
	Use:   "nqsim",
	Short: "discrete-event network queueing simulator",
	Long: `nqsim assembles the devices, queue discs, and traffic sources an
experiment configuration describes, runs the virtual clock to the stop
time, and writes out the gathered trace and statistics report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		xc, err := nqsim.ReadExpCfgFromFile(expFile)
		if err != nil {
			return fmt.Errorf("reading experiment configuration: %w", err)
		}

		if stopTime > 0.0 {
			xc.StopTime = stopTime
		}
		if traceFile != "" {
			xc.Trace = true
		}

		ex := nqsim.BuildExperiment(xc)
		ex.Run()

		if traceFile != "" {
			ex.WriteTrace(traceFile)
		}
		if reportFile != "" {
			if err := ex.Report().WriteToFile(reportFile); err != nil {
				return fmt.Errorf("writing report: %w", err)
			}
		}

		fmt.Printf("experiment %s ran to t=%f\n", ex.Name, ex.EvtMgr.CurrentSeconds())
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&expFile, "exp", "e", "", "experiment configuration file (yaml or json)")
	rootCmd.Flags().StringVarP(&traceFile, "trace", "t", "", "trace output file (yaml or json)")
	rootCmd.Flags().StringVarP(&reportFile, "report", "r", "", "report output file (yaml or json)")
	rootCmd.Flags().Float64VarP(&stopTime, "stop", "s", 0.0, "override the configured stop time, in seconds")
	rootCmd.MarkFlagRequired("exp")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
