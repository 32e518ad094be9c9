package app

import (
	"context"
	"os"

	"causalfix/adapters/excel"
	"causalfix/internal"
	"causalfix/internal/config"
	"causalfix/internal/errors"
	"causalfix/internal/intervention"
	"causalfix/internal/nn"
	"causalfix/internal/report"
	"causalfix/internal/sem"
	"causalfix/ports"
)

// CorrectionService runs the fit, intervene and retrain pipeline
type CorrectionService struct {
	cfg     *config.Config
	rngPort ports.RNGPort
	log     *internal.Logger
}

// NewCorrectionService creates a new correction service
func NewCorrectionService(cfg *config.Config, rngPort ports.RNGPort) *CorrectionService {
	return &CorrectionService{
		cfg:     cfg,
		rngPort: rngPort,
		log:     internal.DefaultLogger.With("correction"),
	}
}

// CorrectionRequest holds the inputs of one run. A nil Data is simulated
// from Definition.
type CorrectionRequest struct {
	Definition *sem.Definition
	Spec       intervention.Spec
	Data       sem.Sample
}

// CorrectionResult holds everything a run produced
type CorrectionResult struct {
	Report    *report.Report
	Model     *sem.SEM
	Base      sem.Sample
	Corrected *nn.Network
}

// LoadRequest reads the definition, spec and optional data named in the
// configured paths
func (s *CorrectionService) LoadRequest() (*CorrectionRequest, error) {
	paths := s.cfg.Paths
	if paths.Definition == "" {
		return nil, errors.ConfigInvalid("a model definition file is required")
	}
	if paths.Spec == "" {
		return nil, errors.ConfigInvalid("an intervention spec file is required")
	}

	def, err := sem.LoadDefinition(paths.Definition)
	if err != nil {
		return nil, err
	}
	spec, err := intervention.LoadSpec(paths.Spec)
	if err != nil {
		return nil, err
	}
	req := &CorrectionRequest{Definition: def, Spec: spec}
	if paths.Data != "" {
		if req.Data, err = excel.NewDataReader(paths.Data).ReadSample(); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// Simulate draws the configured number of rows from def
func (s *CorrectionService) Simulate(def *sem.Definition) (sem.Sample, error) {
	s.log.Info("simulating %d rows", s.cfg.Run.Samples)
	return def.Simulate(s.cfg.Run.Samples, s.cfg.Run.Seed, s.rngPort)
}

// Summarize describes the interventions req would generate without fitting
// anything
func (s *CorrectionService) Summarize(req *CorrectionRequest) (intervention.Summary, error) {
	base, err := s.baseSample(req)
	if err != nil {
		return intervention.Summary{}, err
	}
	g, err := req.Definition.Graph()
	if err != nil {
		return intervention.Summary{}, errors.WithCode(errors.CodeInvalidInput, err)
	}
	model, err := sem.New(g, nil)
	if err != nil {
		return intervention.Summary{}, err
	}
	iv, err := intervention.New(model, base, req.Spec, s.cfg.Run.Target, s.interventionConfig())
	if err != nil {
		return intervention.Summary{}, err
	}
	return iv.Summary(), nil
}

// Correct fits the SEM to the base sample, generates the intervened samples
// and retrains the target's equation
func (s *CorrectionService) Correct(ctx context.Context, req *CorrectionRequest) (*CorrectionResult, error) {
	base, err := s.baseSample(req)
	if err != nil {
		return nil, err
	}
	g, err := req.Definition.Graph()
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}

	fitOpts, err := s.fitOptions()
	if err != nil {
		return nil, err
	}
	s.log.Info("fitting %d equations", len(g.Vertices())-len(g.Roots()))
	model, fits, err := sem.Fit(ctx, g, base, fitOpts, s.rngPort)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fit SEM")
	}
	for _, f := range fits {
		s.log.Debug("fit %s: mse=%.4g r2=%.4f", f.Vertex, f.MSE, f.RSquare)
	}

	iv, err := intervention.New(model, base, req.Spec, s.cfg.Run.Target, s.interventionConfig())
	if err != nil {
		return nil, err
	}
	s.log.Info("%s", iv.Summary())

	res, err := iv.TrainCorrected(ctx, s.trainOptions())
	if err != nil {
		return nil, errors.Wrap(err, "failed to train corrected model")
	}

	original, err := model.Learned(iv.Target())
	if err != nil {
		return nil, err
	}
	rep, err := report.Build(iv, original, res, fits, report.Options{
		Permutations: report.DefaultPermutations,
		Seed:         s.cfg.Run.Seed,
		Streams:      s.rngPort,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("%s", rep.Headline())

	return &CorrectionResult{Report: rep, Model: model, Base: base, Corrected: res.Model}, nil
}

// Save writes the report JSON to the configured output path, or does nothing
// when none is set
func (s *CorrectionService) Save(rep *report.Report) error {
	path := s.cfg.Paths.Output
	if path == "" {
		return nil
	}
	data, err := rep.JSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.IOError(path, err)
	}
	s.log.Info("report written to %s", path)
	return nil
}

// Export writes the base sample plus the corrected model's prediction, as
// column "<target>_corrected", to an xlsx file
func (s *CorrectionService) Export(path string, res *CorrectionResult) error {
	target := res.Report.Summary.Target
	x, err := sem.Combine(res.Model.Parents(target), res.Base)
	if err != nil {
		return err
	}
	pred, err := res.Corrected.Predict(x)
	if err != nil {
		return errors.Wrap(err, "predict corrected target")
	}
	out := res.Base.Clone()
	out[target+"_corrected"] = pred
	if err := excel.WriteSample(path, out); err != nil {
		return err
	}
	s.log.Info("corrected predictions written to %s", path)
	return nil
}

func (s *CorrectionService) baseSample(req *CorrectionRequest) (sem.Sample, error) {
	if req.Definition == nil {
		return nil, errors.InvalidInput("a model definition is required")
	}
	if req.Data != nil {
		return req.Data, nil
	}
	return s.Simulate(req.Definition)
}

func (s *CorrectionService) fitOptions() (sem.FitOptions, error) {
	act, err := nn.ParseActivation(s.cfg.Fit.Activation)
	if err != nil {
		return sem.FitOptions{}, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	opts := sem.DefaultFitOptions()
	opts.Hidden = s.cfg.Fit.Hidden
	opts.Activation = act
	opts.Epochs = s.cfg.Fit.Epochs
	opts.BatchSize = s.cfg.Fit.BatchSize
	opts.Adam.LearningRate = s.cfg.Fit.LearningRate
	opts.Workers = s.cfg.Run.Workers
	opts.Seed = s.cfg.Run.Seed
	return opts, nil
}

func (s *CorrectionService) trainOptions() intervention.TrainOptions {
	t := s.cfg.Training
	opts := intervention.DefaultTrainOptions()
	opts.BatchSize = t.BatchSize
	opts.Epochs = t.Epochs
	opts.Biases = t.Biases
	opts.Axis = intervention.VarianceAxis(t.Axis)
	opts.Adam = nn.AdamConfig{
		LearningRate: t.LearningRate,
		Beta1:        t.Beta1,
		Beta2:        t.Beta2,
		Epsilon:      t.Epsilon,
		WeightDecay:  t.WeightDecay,
	}
	return opts
}

func (s *CorrectionService) interventionConfig() intervention.Config {
	return intervention.Config{
		Seed:    s.cfg.Run.Seed,
		Workers: s.cfg.Run.Workers,
		Streams: s.rngPort,
	}
}
