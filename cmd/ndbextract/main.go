// Command ndbextract converts NDB prescription open data into long-format
// records and writes them as csv, xlsx or parquet.
//
//	ndbextract -layout geographic -round 9 -dosage oral -out oral.parquet
//
// Configuration is read from the environment as for the server; flags
// override the source directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/JonMunkholm/ndbmedicine/internal/application"
	"github.com/JonMunkholm/ndbmedicine/internal/codec"
	"github.com/JonMunkholm/ndbmedicine/internal/config"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	_ "github.com/JonMunkholm/ndbmedicine/internal/core/layouts" // Register all layouts
	"github.com/JonMunkholm/ndbmedicine/internal/logging"
	"github.com/joho/godotenv"
)

type options struct {
	layout string
	round  string
	year   string
	dosage string
	care   string
	total  bool
	format string
	out    string
	dir    string
	mirror string
	list   bool
	store  bool
}

func main() {
	var o options
	flag.StringVar(&o.layout, "layout", "", "layout: geographic or demographic (required unless -list)")
	flag.StringVar(&o.round, "round", "", "comma-separated publication rounds")
	flag.StringVar(&o.year, "year", "", "comma-separated fiscal years")
	flag.StringVar(&o.dosage, "dosage", "", "comma-separated dosage forms: oral, topical, injectable, dental")
	flag.StringVar(&o.care, "care", "", "comma-separated care settings: inpatient, outpatient-in-hospital, outpatient-external")
	flag.BoolVar(&o.total, "total", false, "keep the aggregate total rows")
	flag.StringVar(&o.format, "format", "", "output format: csv, xlsx or parquet (default: from -out extension, else csv)")
	flag.StringVar(&o.out, "out", "-", "output file, - for stdout")
	flag.StringVar(&o.dir, "dir", "", "read source files from this directory instead of the web")
	flag.StringVar(&o.mirror, "mirror", "", "copy the matching source files into this directory and exit")
	flag.BoolVar(&o.list, "list", false, "list the matching source files and exit")
	flag.BoolVar(&o.store, "store", false, "save the run to the configured database")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, o); err != nil {
		slog.Error("ndbextract failed", "error", err, "code", core.MapError(err).Code)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, o options) error {
	criteria, err := core.ParseCriteria(map[string][]string{
		core.ParamRound:  {o.round},
		core.ParamYear:   {o.year},
		core.ParamDosage: {o.dosage},
		core.ParamCare:   {o.care},
		core.ParamTotal:  {fmt.Sprint(o.total)},
	})
	if err != nil {
		return err
	}

	if o.dir != "" {
		cfg.Source.Dir = o.dir
	}
	app, err := application.New(ctx, cfg, application.Options{Sink: o.store})
	if err != nil {
		return err
	}
	defer app.Close()

	if o.store && app.Store == nil {
		return errors.New("-store needs DATABASE_URL")
	}

	n, err := app.Index.Refresh(ctx, app.Source)
	if err != nil {
		return err
	}
	slog.Info("catalog loaded", "files", n)

	switch {
	case o.list:
		files, err := app.Index.Resolve(ctx, criteria)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROUND\tYEAR\tDOSAGE\tCARE\tLAYOUT\tLOCATION")
		for _, f := range files {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n", f.Round, f.Round.FiscalYear(),
				f.DosageForm, f.CareSetting, f.Layout, f.Location)
		}
		return tw.Flush()

	case o.mirror != "":
		files, err := app.Index.Resolve(ctx, criteria)
		if err != nil {
			return err
		}
		saved, err := app.Mirror(o.mirror).SaveAll(ctx, files, cfg.Extract.MaxConcurrentFiles)
		if err != nil {
			return err
		}
		for _, s := range saved {
			slog.Info("mirrored", "file", s.Name, "bytes", s.Bytes, "locations", strings.Join(s.Locations, ","))
		}
		return nil
	}

	layout, err := core.ParseLayoutKind(o.layout)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrUnsupportedLayout, err)
	}
	format, err := outputFormat(o.format, o.out)
	if err != nil {
		return err
	}

	id, err := app.Service.Start(ctx, layout, criteria)
	if err != nil {
		return err
	}
	res, err := app.Service.Wait(ctx, id)
	if ctx.Err() != nil {
		app.Service.Cancel(id)
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	for _, s := range res.Skipped {
		slog.Warn("file skipped", "file", s.File.FileName(), "reason", s.Reason)
	}
	slog.Info("extraction complete",
		"run_id", id.String(),
		"files", len(res.Files),
		"skipped", len(res.Skipped),
		"records", len(res.Records),
	)

	return writeOutput(o.out, func(w io.Writer) error {
		return codec.Encode(w, format, layout, res.Records)
	})
}

// outputFormat prefers the explicit flag, then the output extension.
func outputFormat(flagValue, out string) (codec.Format, error) {
	if flagValue != "" {
		return codec.ParseFormat(flagValue)
	}
	if ext := strings.TrimPrefix(filepath.Ext(out), "."); ext != "" && out != "-" {
		return codec.ParseFormat(ext)
	}
	return codec.FormatCSV, nil
}

func writeOutput(path string, write func(io.Writer) error) error {
	if path == "-" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
