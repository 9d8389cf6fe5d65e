// seedsig extracts mean time series from spheres around seed coordinates
// in a 4D NIfTI scan and writes the result as CSV, with optional SQLite
// persistence and HTML/PNG reports.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/cortical-data/seedsig/internal/config"
	"github.com/cortical-data/seedsig/internal/masker"
	"github.com/cortical-data/seedsig/internal/monitoring"
	"github.com/cortical-data/seedsig/internal/nifti"
	"github.com/cortical-data/seedsig/internal/report"
	"github.com/cortical-data/seedsig/internal/sphere"
	"github.com/cortical-data/seedsig/internal/store"
	"github.com/cortical-data/seedsig/internal/version"
)

type options struct {
	inputPath  string
	configPath string
	maskPath   string
	csvPath    string
	dbPath     string
	htmlPath   string
	pngPath    string
	verbose    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.inputPath, "input", "", "4D NIfTI scan to extract from (.nii or .nii.gz)")
	flag.StringVar(&opts.configPath, "config", "", "JSON job config with seeds and extraction parameters")
	flag.StringVar(&opts.maskPath, "mask", "", "Optional 3D NIfTI brain mask")
	flag.StringVar(&opts.csvPath, "out", "", "Write extracted series as CSV to this path (default stdout)")
	flag.StringVar(&opts.dbPath, "db", "", "Persist the run to this SQLite database")
	flag.StringVar(&opts.htmlPath, "html", "", "Write an interactive HTML chart to this path")
	flag.StringVar(&opts.pngPath, "png", "", "Write a static PNG plot to this path")
	flag.BoolVar(&opts.verbose, "verbose", false, "Log extraction stages")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if opts.inputPath == "" || opts.configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: seedsig -input scan.nii.gz -config job.json [-mask mask.nii] [-out series.csv] [-db runs.db] [-html chart.html] [-png plot.png]")
		os.Exit(2)
	}
	if !opts.verbose {
		monitoring.SetLogger(nil)
	}

	if err := run(&opts); err != nil {
		log.Fatalf("seedsig: %v", err)
	}
}

func run(opts *options) error {
	job, err := config.LoadJobConfig(opts.configPath)
	if err != nil {
		return err
	}

	maskOpts := buildMaskerOptions(job, opts.maskPath)
	m := masker.New(job.Seeds, maskOpts...)

	signals, err := m.FitTransform(&nifti.File{Path: opts.inputPath}, nil)
	if err != nil {
		return err
	}

	seeds, err := sphere.ParseSeeds(job.Seeds)
	if err != nil {
		return err
	}

	if err := writeCSV(opts.csvPath, seeds, signals, trSeconds(job)); err != nil {
		return err
	}
	if opts.dbPath != "" {
		if err := persistRun(opts.dbPath, opts.inputPath, job, seeds, signals); err != nil {
			return err
		}
	}
	if opts.htmlPath != "" {
		if err := report.WriteHTMLChart(opts.htmlPath, seeds, signals, trSeconds(job)); err != nil {
			return err
		}
	}
	if opts.pngPath != "" {
		if err := report.WritePNGPlot(opts.pngPath, seeds, signals, trSeconds(job)); err != nil {
			return err
		}
	}
	return nil
}

func trSeconds(job *config.JobConfig) float64 {
	if job.TRSeconds != nil {
		return *job.TRSeconds
	}
	return 0
}

func buildMaskerOptions(job *config.JobConfig, maskPath string) []masker.Option {
	var maskOpts []masker.Option
	if job.RadiusMM != nil {
		maskOpts = append(maskOpts, masker.WithRadius(*job.RadiusMM))
	}
	if job.SmoothingFWHMMM != nil {
		maskOpts = append(maskOpts, masker.WithSmoothing(*job.SmoothingFWHMMM))
	}
	if maskPath != "" {
		maskOpts = append(maskOpts, masker.WithMask(&nifti.File{Path: maskPath}))
	}
	maskOpts = append(maskOpts, masker.WithClean(job.CleanOptions()))
	return maskOpts
}

// writeCSV emits one row per timepoint with a time column followed by one
// column per seed. path == "" writes to stdout.
func writeCSV(path string, seeds []sphere.Seed, signals *mat.Dense, tr float64) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create csv: %w", err)
		}
		defer f.Close()
		out = f
	}

	w := csv.NewWriter(out)
	nt, n := signals.Dims()

	header := make([]string, n+1)
	if tr > 0 {
		header[0] = "time_s"
	} else {
		header[0] = "frame"
	}
	for j, s := range seeds {
		header[j+1] = fmt.Sprintf("seed_%d_%.1f_%.1f_%.1f", j, s[0], s[1], s[2])
	}
	if err := w.Write(header); err != nil {
		return err
	}

	row := make([]string, n+1)
	for t := 0; t < nt; t++ {
		if tr > 0 {
			row[0] = strconv.FormatFloat(float64(t)*tr, 'g', -1, 64)
		} else {
			row[0] = strconv.Itoa(t)
		}
		for j := 0; j < n; j++ {
			row[j+1] = strconv.FormatFloat(signals.At(t, j), 'g', -1, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func persistRun(dbPath, sourcePath string, job *config.JobConfig, seeds []sphere.Seed, signals *mat.Dense) error {
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	params, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job params: %w", err)
	}

	run := &store.Run{
		SourcePath: sourcePath,
		RadiusMM:   job.RadiusMM,
		ParamsJSON: params,
	}
	if err := store.NewRunStore(db).Insert(run, seeds, signals); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "stored run %s (%d seeds, %d timepoints)\n", run.RunID, run.SeedCount, run.TimepointCount)
	return nil
}
