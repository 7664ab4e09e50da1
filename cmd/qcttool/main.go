package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/akhenakh/qctapi/qct"
)

var windowFlags = []cli.Flag{
	&cli.IntFlag{Name: "x", Usage: "first tile column"},
	&cli.IntFlag{Name: "y", Usage: "first tile row"},
	&cli.IntFlag{Name: "width", Usage: "window width in tiles, 0 to the chart edge"},
	&cli.IntFlag{Name: "height", Usage: "window height in tiles, 0 to the chart edge"},
}

func main() {
	app := cli.NewApp()

	app.Name = "qcttool"
	app.Usage = "Inspect and export QCT raster charts"
	app.Version = "1.0.0"

	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			EnvVars: []string{"QCTTOOL_VERBOSE"},
			Usage:   "log damaged tiles and progress",
		},
		&cli.IntFlag{
			Name:  "workers",
			Value: 4,
			Usage: "tiles decoded concurrently",
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:      "info",
			Usage:     "Print chart metadata, palette, outline and corners",
			ArgsUsage: "FILE",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "outline-kml", Usage: "also write the outline as KML to `PATH`"},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}
				chart, err := openChart(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer chart.Close()

				printInfo(c.App.Writer, chart)

				if path := c.String("outline-kml"); path != "" {
					if err := writeFile(path, func(w io.Writer) error {
						return qct.WriteOutlineKML(w, "Outline", chart.Outline())
					}); err != nil {
						return cli.Exit(err, 1)
					}
				}
				return nil
			},
		},
		{
			Name:      "export",
			Usage:     "Export a window as georeferenced blocks with a KML index",
			ArgsUsage: "FILE OUTDIR",
			Flags: append([]cli.Flag{
				&cli.IntFlag{Name: "block", Usage: "block size in tiles, 0 for a single block"},
				&cli.BoolFlag{Name: "rotate", Usage: "compute rotated ground overlays"},
				&cli.StringFlag{Name: "format", Value: "png", Usage: "block image format: png or raw"},
			}, windowFlags...),
			Action: func(c *cli.Context) error {
				if c.NArg() < 2 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}
				chart, err := openChart(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer chart.Close()

				opts := qct.ExportOptions{
					BlockWidth:  c.Int("block"),
					BlockHeight: c.Int("block"),
					Rotate:      c.Bool("rotate"),
				}
				n, err := exportChart(c.Context, chart, windowFrom(c, chart), opts, c.String("format"), c.Args().Get(1))
				if err != nil {
					return cli.Exit(err, 1)
				}
				slog.Info("export complete", "blocks", n, "dir", c.Args().Get(1))
				return nil
			},
		},
		{
			Name:      "raster",
			Usage:     "Write the indexed raster of a window (PNG when OUT ends in .png, raw bytes otherwise)",
			ArgsUsage: "FILE OUT",
			Flags:     windowFlags,
			Action: func(c *cli.Context) error {
				if c.NArg() < 2 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}
				chart, err := openChart(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer chart.Close()

				if err := writeRaster(c.Context, chart, windowFrom(c, chart), c.Args().Get(1)); err != nil {
					return cli.Exit(err, 1)
				}
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openChart(c *cli.Context) (*qct.Chart, error) {
	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return qct.OpenChart(ctx, c.Args().First(), qct.WithLogger(logger), qct.WithWorkers(c.Int("workers")))
}

func windowFrom(c *cli.Context, chart *qct.Chart) qct.Window {
	return resolveWindow(chart.Grid(), c.Int("x"), c.Int("y"), c.Int("width"), c.Int("height"))
}
