// submodule cmd contains shared flag definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

func prettyFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "pretty",
		Usage: "Pretty-print output",
		Value: true,
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format for the stem listing (txt, json, csv, markdown)",
		Value:   "txt",
	}
}

func outputDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Directory to save stems to (default: downloads.output_dir)",
	}
}

// transformFlags are the parameters of the three operations.
// Only the flags belonging to the chosen operation are read.
func transformFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "op",
			Usage: "Operation to run (separate, transpose, tempo)",
			Value: "separate",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "Separation model (htdemucs, htdemucs_ft)",
			Value: "htdemucs",
		},
		&cli.IntFlag{
			Name:  "stems",
			Usage: "Number of stems to separate into (2 or 4)",
			Value: 4,
		},
		&cli.IntFlag{
			Name:  "semitones",
			Usage: "Pitch shift in semitones for transpose (-12 to 12, not 0)",
		},
		&cli.FloatFlag{
			Name:  "factor",
			Usage: "Playback speed factor for tempo (0.5 to 2.0, not 1.0)",
		},
		&cli.BoolFlag{
			Name:  "download",
			Usage: "Download outputs once the task completes",
		},
		outputDirFlag(),
		formatFlag(),
	}
}
