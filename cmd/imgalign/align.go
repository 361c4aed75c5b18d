package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"time"

	"feature-align/internal/alignment"
	"feature-align/internal/config"
	"feature-align/internal/logging"
	"feature-align/internal/raster"

	"github.com/spf13/cobra"
)

// alignFlags are the per-run overrides of the configuration file.
type alignFlags struct {
	family      string
	strategy    string
	backend     string
	maxFeatures int
	ratio       float64
	threshold   float64
	minInliers  int
	trials      int
	seed        uint64
	preprocess  bool
	output      string
	jsonOutput  bool
}

func (f *alignFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.family, "family", "binary", "descriptor family (binary|float)")
	cmd.Flags().StringVar(&f.strategy, "matcher", "exact", "matching strategy (exact|approximate)")
	cmd.Flags().StringVar(&f.backend, "backend", "native", "detector backend (native|opencv)")
	cmd.Flags().IntVar(&f.maxFeatures, "features", 1000, "maximum keypoints per image")
	cmd.Flags().Float64Var(&f.ratio, "ratio", 0.7, "ratio test threshold")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 3.0, "RANSAC reprojection threshold in pixels")
	cmd.Flags().IntVar(&f.minInliers, "min-inliers", 6, "minimum inliers for a valid model")
	cmd.Flags().IntVar(&f.trials, "trials", 2000, "RANSAC trial budget")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "random seed")
	cmd.Flags().BoolVar(&f.preprocess, "preprocess", false, "detect on Otsu-binarized images")
}

// apply copies the flags the user set onto cfg.
func (f *alignFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("family") {
		cfg.Features.Family = f.family
	}
	if changed("matcher") {
		cfg.Matching.Strategy = f.strategy
	}
	if changed("backend") {
		cfg.Features.Backend = f.backend
	}
	if changed("features") {
		cfg.Features.MaxFeatures = f.maxFeatures
	}
	if changed("ratio") {
		cfg.Matching.Ratio = f.ratio
	}
	if changed("threshold") {
		cfg.Estimation.ReprojectionThreshold = f.threshold
	}
	if changed("min-inliers") {
		cfg.Estimation.MinInliers = f.minInliers
	}
	if changed("trials") {
		cfg.Estimation.MaxTrials = f.trials
	}
	if changed("seed") {
		cfg.Estimation.Seed = f.seed
	}
	if changed("preprocess") {
		cfg.Features.Preprocess = f.preprocess
	}
	return cfg.Validate()
}

func newAlignCmd(g *globals) *cobra.Command {
	f := &alignFlags{}
	cmd := &cobra.Command{
		Use:   "align <image> <reference>",
		Short: "Align an image onto a reference image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load(cmd)
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}

			img, ref, err := loadPair(args[0], args[1])
			if err != nil {
				return err
			}

			opts := cfg.Options()
			opts.Logger = log
			aligner, err := alignment.New(opts)
			if err != nil {
				return err
			}

			logging.LogAlignStart(log, aligner.Method(), args[0], args[1])
			start := time.Now()
			res, err := aligner.Align(context.Background(), img, ref)
			if err != nil {
				logging.LogAlignError(log, aligner.Method(), time.Since(start), err)
				return err
			}
			logging.LogAlignComplete(log, aligner.Method(), time.Since(start), res.Summary())

			if f.output != "" {
				if err := raster.Save(res.Warped, f.output); err != nil {
					return err
				}
			}
			return printResult(cmd, res, f.jsonOutput)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&f.output, "out", "o", "", "write the warped image to this path")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "print the result summary as JSON")
	return cmd
}

func loadPair(imagePath, refPath string) (image.Image, image.Image, error) {
	img, err := raster.Load(imagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("load image: %w", err)
	}
	ref, err := raster.Load(refPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load reference: %w", err)
	}
	return img, ref, nil
}

func printResult(cmd *cobra.Command, res *alignment.Result, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		data, err := json.MarshalIndent(res.Summary(), "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	fmt.Fprintln(out, res)
	m := res.Homography.ToMatrix()
	for _, row := range m {
		fmt.Fprintf(out, "  [%12.6f %12.6f %12.6f]\n", row[0], row[1], row[2])
	}
	return nil
}
