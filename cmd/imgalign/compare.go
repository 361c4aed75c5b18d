package main

import (
	"context"
	"fmt"
	"slices"
	"text/tabwriter"

	"feature-align/internal/alignment"

	"github.com/spf13/cobra"
)

type method struct {
	family   alignment.Family
	strategy alignment.Strategy
}

// compareMethods are run by default; --all adds extraMethods.
var (
	compareMethods = []method{
		{alignment.FamilyBinary, alignment.StrategyExact},
		{alignment.FamilyFloat, alignment.StrategyApproximate},
	}
	extraMethods = []method{
		{alignment.FamilyBinary, alignment.StrategyApproximate},
		{alignment.FamilyFloat, alignment.StrategyExact},
	}
)

func newCompareCmd(g *globals) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "compare <image> <reference>",
		Short: "Compare binary and floating-point alignment on one image pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load(cmd)
			if err != nil {
				return err
			}
			img, ref, err := loadPair(args[0], args[1])
			if err != nil {
				return err
			}

			methods := compareMethods
			if all {
				methods = slices.Concat(compareMethods, extraMethods)
			}

			var aligners []alignment.Aligner
			for _, m := range methods {
				opts := cfg.Options()
				opts.Family, opts.Strategy = m.family, m.strategy
				opts.Logger = log
				a, err := alignment.New(opts)
				if err != nil {
					return err
				}
				aligners = append(aligners, a)
			}

			c := alignment.Compare(context.Background(), img, ref, aligners...)
			return printComparison(cmd, c)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also run ORB+LSH and GRAD+BF")
	return cmd
}

func printComparison(cmd *cobra.Command, c alignment.Comparison) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tKEYPOINTS\tMATCHES\tINLIERS\tERROR(px)\tTIME")
	for _, o := range c.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(w, "%s\tfailed: %v\t\t\t\t\n", o.Method, o.Err)
			continue
		}
		r := o.Result
		fmt.Fprintf(w, "%s\t%d/%d\t%d\t%d\t%.3f\t%v\n",
			o.Method, r.KeypointsA, r.KeypointsB, r.Matches, r.Inliers, r.MeanError, r.Elapsed)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if fastest, ok := c.Fastest(); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "fastest: %s\n", fastest.Method)
	}
	if most, ok := c.MostMatches(); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "most matches: %s\n", most.Method)
	}
	return nil
}
