package main

import (
	"fmt"
	"os"

	"causalfix/adapters/excel"
	"causalfix/adapters/rng"
	"causalfix/app"
	"causalfix/internal"
	"causalfix/internal/config"
	"causalfix/internal/sem"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// options are flag values that override the loaded configuration when set
type options struct {
	envFile    string
	definition string
	spec       string
	data       string
	output     string
	export     string
	target     string
	seed       int64
	samples    int
	epochs     int
	batchSize  int
	biases     bool
	axis       string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "causalfix",
		Short: "Retrain a learned SEM equation so its output no longer depends on proxy variables",
		Long: `causalfix fits a structural equation model to data, intervenes on proxy
vertices and retrains the first layer of a target's equation until the
target's output is invariant to those interventions.

Configuration is read from CAUSALFIX_* environment variables (optionally
from a .env file); flags override them.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file to load before reading configuration")
	rootCmd.PersistentFlags().StringVarP(&opts.definition, "definition", "d", "", "Model definition YAML")
	rootCmd.PersistentFlags().Int64Var(&opts.seed, "seed", 0, "Random seed")
	rootCmd.PersistentFlags().IntVarP(&opts.samples, "samples", "n", 0, "Rows to simulate when no data file is given")

	rootCmd.AddCommand(
		newSimulateCmd(opts),
		newCorrectCmd(opts),
		newSummaryCmd(opts),
	)
	return rootCmd
}

func newSimulateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate [out.xlsx]",
		Short: "Draw a sample from a model definition",
		Long: `Draw rows from the ground-truth model definition and write them to
Sheet1 of an xlsx file, one column per vertex.

Example: causalfix simulate base.xlsx -d model.yaml -n 5000 --seed 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cfg, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			if cfg.Paths.Definition == "" {
				return fmt.Errorf("a model definition is required (--definition or CAUSALFIX_DEFINITION)")
			}
			def, err := sem.LoadDefinition(cfg.Paths.Definition)
			if err != nil {
				return err
			}
			sample, err := svc.Simulate(def)
			if err != nil {
				return err
			}
			if err := excel.WriteSample(args[0], sample); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", cfg.Run.Samples, args[0])
			return nil
		},
	}
	return cmd
}

func newCorrectCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Fit the model, intervene on proxies and retrain the target",
		Long: `Fit one network per non-root vertex, generate intervened samples for the
proxies named in the spec, and retrain the target's first layer to minimise
the variance of its output across interventions.

Example: causalfix correct -d model.yaml -s spec.yaml --data base.xlsx -o report.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			req, err := svc.LoadRequest()
			if err != nil {
				return err
			}
			res, err := svc.Correct(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := svc.Save(res.Report); err != nil {
				return err
			}
			if opts.export != "" {
				if err := svc.Export(opts.export, res); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Report.Headline())
			return nil
		},
	}
	addRunFlags(cmd, opts)
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the JSON report here")
	cmd.Flags().StringVar(&opts.export, "export", "", "Write the base sample with corrected predictions to this xlsx file")
	cmd.Flags().StringVar(&opts.target, "target", "", "Vertex to correct")
	cmd.Flags().IntVar(&opts.epochs, "epochs", 0, "Correction training epochs")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Correction training batch size")
	cmd.Flags().BoolVar(&opts.biases, "biases", false, "Also train the biases of proxy input layers")
	cmd.Flags().StringVar(&opts.axis, "variance-axis", "", "Variance taken across interventions or rows")
	return cmd
}

func newSummaryCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the number of interventions a spec generates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			req, err := svc.LoadRequest()
			if err != nil {
				return err
			}
			sum, err := svc.Summarize(req)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), sum.String())
			return nil
		},
	}
	addRunFlags(cmd, opts)
	return cmd
}

func addRunFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().StringVarP(&opts.spec, "spec", "s", "", "Intervention spec YAML")
	cmd.Flags().StringVar(&opts.data, "data", "", "Base sample (xlsx or csv); simulated from the definition when empty")
}

// setup loads .env and the configuration, applies flag overrides and builds
// the service
func setup(cmd *cobra.Command, opts *options) (*app.CorrectionService, *config.Config, error) {
	if err := godotenv.Load(opts.envFile); err != nil && cmd.Flags().Changed("env-file") {
		return nil, nil, fmt.Errorf("failed to load %s: %w", opts.envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	applyFlags(cmd, opts, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if level, ok := internal.ParseLogLevel(cfg.Run.LogLevel); ok {
		internal.DefaultLogger.SetLevel(level)
	}
	return app.NewCorrectionService(cfg, rng.NewSeeded()), cfg, nil
}

func applyFlags(cmd *cobra.Command, opts *options, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("definition") {
		cfg.Paths.Definition = opts.definition
	}
	if changed("spec") {
		cfg.Paths.Spec = opts.spec
	}
	if changed("data") {
		cfg.Paths.Data = opts.data
	}
	if changed("output") {
		cfg.Paths.Output = opts.output
	}
	if changed("target") {
		cfg.Run.Target = opts.target
	}
	if changed("seed") {
		cfg.Run.Seed = opts.seed
	}
	if changed("samples") {
		cfg.Run.Samples = opts.samples
	}
	if changed("epochs") {
		cfg.Training.Epochs = opts.epochs
	}
	if changed("batch-size") {
		cfg.Training.BatchSize = opts.batchSize
	}
	if changed("biases") {
		cfg.Training.Biases = opts.biases
	}
	if changed("variance-axis") {
		cfg.Training.Axis = opts.axis
	}
}
