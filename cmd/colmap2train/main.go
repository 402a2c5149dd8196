package main

import (
	"fmt"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/timo-kang/densnet/batch"
	"github.com/timo-kang/densnet/enhance"
	"github.com/timo-kang/densnet/trainfmt"
)

var logger = golog.NewDevelopmentLogger("colmap2train")

func main() {
	app := &cli.App{
		Name:  "colmap2train",
		Usage: "Converts COLMAP sparse reconstructions into depth-training sequences",
		Commands: []*cli.Command{
			{
				Name:      "convert",
				Usage:     "Batch convert every sparse/0 reconstruction into bag_N/sequence_M directories",
				ArgsUsage: "<colmap_root> [<image_root>] <output_root>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "workers",
						Usage: "number of reconstructions converted concurrently",
						Value: 1,
					},
					&cli.BoolFlag{
						Name:  "symlink",
						Usage: "symlink images instead of copying",
					},
					&cli.BoolFlag{
						Name:  "jpeg",
						Usage: "re-encode images as JPEG quality 95",
					},
					&cli.BoolFlag{
						Name:  "ros-poses",
						Usage: "write motion.yaml as position+orientation messages instead of 4x4 matrices",
					},
					&cli.BoolFlag{
						Name:  "flat-intrinsics",
						Usage: "write one intrinsics file with four parameters per image",
					},
					&cli.BoolFlag{
						Name:  "masks",
						Usage: "also write mask and view-index sidecar files",
					},
					&cli.BoolFlag{
						Name:  "rap",
						Usage: "also write a trajectory recording per sequence",
					},
				},
				Action: convertAction,
			},
			{
				Name:      "masks",
				Usage:     "Regenerate mask and view-index sidecars for converted sequences",
				ArgsUsage: "<output_root>",
				Action:    masksAction,
			},
			{
				Name:      "enhance",
				Usage:     "Enhance image directories for feature detection before reconstruction",
				ArgsUsage: "<input_root> <output_root>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "upscale",
						Usage: "upscale images 2x for more features",
					},
				},
				Action: enhanceAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func convertAction(c *cli.Context) error {
	var datasetRoot, imageRoot, outputRoot string
	switch c.Args().Len() {
	case 2:
		datasetRoot, outputRoot = c.Args().Get(0), c.Args().Get(1)
	case 3:
		datasetRoot, imageRoot, outputRoot = c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)
	default:
		return cli.Exit("usage: convert <colmap_root> [<image_root>] <output_root>", 1)
	}

	for _, root := range []string{datasetRoot, imageRoot} {
		if root == "" {
			continue
		}
		if _, err := os.Stat(root); err != nil {
			return cli.Exit(fmt.Sprintf("ERROR: directory not found: %s", root), 1)
		}
	}

	mode := trainfmt.ImageCopy
	if c.Bool("symlink") {
		mode = trainfmt.ImageSymlink
	}
	if c.Bool("jpeg") {
		mode = trainfmt.ImageJPEG
	}

	summary, err := batch.Run(datasetRoot, outputRoot, batch.Options{
		ImageRoot: imageRoot,
		Workers:   c.Int("workers"),
		RAP:       c.Bool("rap"),
		Sequence: trainfmt.Options{
			ImageMode:      mode,
			ROSPoses:       c.Bool("ros-poses"),
			FlatIntrinsics: c.Bool("flat-intrinsics"),
			Sidecars:       c.Bool("masks"),
			Logger:         logger,
		},
		Logger: logger,
	})
	if err != nil {
		if errors.Is(err, batch.ErrNoReconstructions) {
			return cli.Exit(fmt.Sprintf("ERROR: no sparse/0 directories found in %s", datasetRoot), 1)
		}
		return cli.Exit(fmt.Sprintf("ERROR: %v", err), 1)
	}

	// Per-item failures are in the run log; the batch itself completed.
	fmt.Printf("Success: %d | Failed: %d\n", summary.Succeeded, summary.Failed)
	fmt.Printf("Output: %s\n", outputRoot)
	fmt.Printf("Log: %s\n", outputRoot+"/"+batch.LogFileName)
	return nil
}

func masksAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("usage: masks <output_root>", 1)
	}
	root := c.Args().Get(0)
	if _, err := os.Stat(root); err != nil {
		return cli.Exit(fmt.Sprintf("ERROR: directory not found: %s", root), 1)
	}

	succeeded, failed, err := trainfmt.RegenerateSidecars(root, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("ERROR: %v", err), 1)
	}
	fmt.Printf("Success: %d | Failed: %d\n", succeeded, failed)
	return nil
}

func enhanceAction(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return cli.Exit("usage: enhance <input_root> <output_root>", 1)
	}
	inputRoot, outputRoot := c.Args().Get(0), c.Args().Get(1)
	if _, err := os.Stat(inputRoot); err != nil {
		return cli.Exit(fmt.Sprintf("ERROR: directory not found: %s", inputRoot), 1)
	}

	total, err := enhance.Run(inputRoot, outputRoot, c.Bool("upscale"), logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("ERROR: %v", err), 1)
	}
	fmt.Printf("Total images processed: %d\n", total)
	return nil
}
