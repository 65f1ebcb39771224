package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/robocam-suite/robocam/pkg/calibration"
	"github.com/robocam-suite/robocam/pkg/plateplot"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

// gridFlags describes a plate either by its corners or by a calibration file.
type gridFlags struct {
	columns         int
	rows            int
	upperLeft       string
	lowerLeft       string
	upperRight      string
	lowerRight      string
	calibrationFile string
	pattern         string
	wells           []string
}

func (f *gridFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVarP(&f.columns, "columns", "c", 0, "number of columns")
	fs.IntVarP(&f.rows, "rows", "r", 0, "number of rows")
	fs.StringVar(&f.upperLeft, "upper-left", "", "upper left well (A1) as x,y,z")
	fs.StringVar(&f.lowerLeft, "lower-left", "", "lower left well as x,y,z")
	fs.StringVar(&f.upperRight, "upper-right", "", "upper right well as x,y,z")
	fs.StringVar(&f.lowerRight, "lower-right", "", "lower right well as x,y,z")
	fs.StringVarP(&f.calibrationFile, "from", "f", "", "read the grid from a calibration file instead")
	fs.StringVar(&f.pattern, "pattern", string(wellgrid.Snake), "visiting pattern (snake, raster)")
	fs.StringSliceVarP(&f.wells, "wells", "w", nil, "only visit these wells, e.g. A1,B2")
}

// route returns every well of the grid and the wells visited, in order.
func (f *gridFlags) route() (wells, route []wellgrid.Well, err error) {
	pattern, err := wellgrid.ParsePattern(f.pattern)
	if err != nil {
		return nil, nil, err
	}

	columns, rows := f.columns, f.rows
	if f.calibrationFile != "" {
		cal, err := calibration.LoadFile(f.calibrationFile)
		if err != nil {
			return nil, nil, err
		}
		columns, rows = cal.XQuantity, cal.YQuantity
		wells, err = cal.Wells()
		if err != nil {
			return nil, nil, err
		}
	} else {
		var corners [4]wellgrid.Point
		for i, raw := range []string{f.upperLeft, f.lowerLeft, f.upperRight, f.lowerRight} {
			if raw == "" {
				return nil, nil, fmt.Errorf("all four corners are required, or use --from")
			}
			if corners[i], err = parsePoint(raw); err != nil {
				return nil, nil, err
			}
		}
		wells, err = wellgrid.Generate(columns, rows, corners[0], corners[1], corners[2], corners[3])
		if err != nil {
			return nil, nil, err
		}
	}

	route, err = wellgrid.Sequence(wells, columns, rows, pattern)
	if err != nil {
		return nil, nil, err
	}
	if len(f.wells) > 0 {
		var missing []string
		route, missing = wellgrid.Select(route, f.wells)
		if len(missing) > 0 {
			return nil, nil, fmt.Errorf("wells not on the plate: %s", strings.Join(missing, ", "))
		}
	}
	return wells, route, nil
}

func NewGridCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "grid",
		Short:   "Compute well positions without the daemon",
		GroupID: gBasic,
		Long: `Compute well positions from four corner positions and print or plot the
order in which they are visited. These commands work offline.`,
	}

	cmd.AddCommand(newGridGenerateCommand(), newGridPlotCommand())
	return cmd
}

func newGridGenerateCommand() *cobra.Command {
	var f gridFlags
	asJSON := false

	cmd := &cobra.Command{
		Use:         "generate",
		Aliases:     []string{"gen"},
		Short:       "Print well positions in visiting order",
		Annotations: offlineAnnotation,
		Example: `  robocam grid generate -c 12 -r 8 --upper-left 10,140,120 --lower-left 10,77,120 \
      --upper-right 109,140,120 --lower-right 109,77,121
  robocam grid generate --from /var/lib/robocam/calibrations/20250314_092653_plate.json -w A1,A2,B2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, route, err := f.route()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, route)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tWELL\tX\tY\tZ")
			for i, w := range route {
				fmt.Fprintf(tw, "%d\t%s\t%.3f\t%.3f\t%.3f\n", i+1, w.Label, w.Position.X, w.Position.Y, w.Position.Z)
			}
			return tw.Flush()
		},
	}

	f.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print wells as JSON")
	return cmd
}

func newGridPlotCommand() *cobra.Command {
	var f gridFlags
	output := "plate.png"
	title := ""

	cmd := &cobra.Command{
		Use:         "plot",
		Short:       "Plot well positions and the visiting route",
		Annotations: offlineAnnotation,
		Long: `Plot well positions and the route the stage takes between them. The image
format follows the output extension (png, jpg, svg, pdf, eps, tif).`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			wells, route, err := f.route()
			if err != nil {
				return err
			}
			if title == "" {
				title = fmt.Sprintf("%d wells, %s", len(route), f.pattern)
			}
			if err := plateplot.Save(output, title, wells, route); err != nil {
				return err
			}
			logrus.Infof("plot written to %s", output)
			return nil
		},
	}

	f.bind(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", output, "output image path")
	cmd.Flags().StringVar(&title, "title", "", "plot title")
	return cmd
}
