package fit

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/likelihood"
	"github.com/fyrsmithlabs/gravfit/internal/logging"
	"github.com/fyrsmithlabs/gravfit/internal/model"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
	"github.com/fyrsmithlabs/gravfit/internal/phasemap"
)

// JointReport is the outcome of one RunJoint.
type JointReport struct {
	RunID     string   `json:"run_id"`
	Mode      string   `json:"mode"`
	Names     []string `json:"names"`
	FreeNames []string `json:"free_names"`
	// Result holds the joint vectors. Its chi-square terms are summed over
	// all parts.
	Result   UnitResult  `json:"result"`
	Parts    []JointPart `json:"parts"`
	Started  time.Time   `json:"started"`
	Duration float64     `json:"duration_seconds"`
}

// JointPart is one unit of a joint fit evaluated at the reported vector.
type JointPart struct {
	File         int `json:"file"`
	Polarization int `json:"polarization"`
	DIT          int `json:"dit"`

	// Reported is the single-unit full vector of this part.
	Reported    observation.Row `json:"reported"`
	Chi2        observation.Row `json:"chi2"`
	ReducedChi2 observation.Row `json:"reduced_chi2"`

	Model *ModelOutput `json:"model,omitempty"`
}

// jointPart is a prepared unit with its sampling and target.
type jointPart struct {
	file   int
	unit   *observation.Unit
	model  *model.Model
	smp    *model.Sampling
	target *likelihood.Target
}

// RunJoint fits every unit of every bundle with one shared set of source
// positions and flux ratios. Each unit keeps its own nuisance block apart
// from what Options.Share pools. Degenerate units are left out; a run with
// no usable unit fails.
func (d *Driver) RunJoint(ctx context.Context, bundles []*observation.Bundle) (*JointReport, error) {
	const op = "fit.RunJoint"
	started := time.Now()
	o := d.opts

	if len(bundles) == 0 {
		return nil, fiterr.Invalid(op, "no observations")
	}
	nch := len(bundles[0].Wave)
	for f, b := range bundles {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if len(b.Wave) != nch {
			return nil, fiterr.Mismatch(op, "file %d has %d channels, file 1 has %d", f+1, len(b.Wave), nch)
		}
	}
	if o.Flags.FitPhaseCenter && nch < 2 {
		return nil, fiterr.Invalid(op, "phase-center fit needs at least 2 channels, data has %d", nch)
	}
	base, err := model.BuildLayout(o.Sources, o.Flags)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = logging.WithLogger(logging.WithRunID(ctx, runID), d.logger)

	var parts []jointPart
	for f, b := range bundles {
		window, err := o.Prepare.Resolve(b.Resolution)
		if err != nil {
			return nil, err
		}
		m, err := d.model(b, base.Initial())
		if err != nil {
			return nil, err
		}
		units, err := b.Units(o.Polarization)
		if err != nil {
			return nil, err
		}
		for i := range units {
			u := &units[i]
			observation.Prepare(u, window)
			if err := degenerate(u, o.Weights, o.MinValidChannels); err != nil {
				d.logger.Warn(ctx, "leaving degenerate unit out of the joint fit",
					zap.Int("file", f+1), zap.Int("polarization", u.Polarization), zap.Int("dit", u.DIT), zap.Error(err))
				continue
			}
			smp, err := model.NewSampling(b, u)
			if err != nil {
				return nil, err
			}
			tg, err := likelihood.New(m, base, smp, u, o.Weights)
			if err != nil {
				return nil, err
			}
			parts = append(parts, jointPart{file: f, unit: u, model: m, smp: smp, target: tg})
		}
	}
	if len(parts) == 0 {
		return nil, fiterr.Degenerate(op, "no unit of %d files is usable", len(bundles))
	}

	jl, err := model.BuildJointLayout(o.Sources, o.Flags, len(parts), o.Share)
	if err != nil {
		return nil, err
	}
	targets := make([]*likelihood.Target, len(parts))
	for p := range parts {
		targets[p] = parts[p].target
	}
	joint, err := likelihood.NewJoint(jl, targets)
	if err != nil {
		return nil, err
	}
	layout := joint.Layout()

	ctx, span := d.tracer.Start(ctx, "fit.RunJoint", trace.WithAttributes(
		attribute.String("fit.run_id", runID),
		attribute.String("fit.mode", o.Mode.String()),
		attribute.Int("fit.files", len(bundles)),
		attribute.Int("fit.parts", len(parts)),
		attribute.Int("fit.free_parameters", layout.NumFree()),
	))
	defer span.End()

	d.logger.Info(ctx, "joint fit started",
		zap.String("mode", o.Mode.String()),
		zap.Int("files", len(bundles)),
		zap.Int("parts", len(parts)),
		zap.Strings("free", layout.FreeNames()),
		zap.Bool("one_bh_alpha", o.Share.OneBHAlpha),
		zap.Bool("one_bg", o.Share.OneBG),
	)

	key := UnitKey{RunID: runID, Polarization: AllPolarizations}
	steps := o.Steps
	if o.NoFit {
		steps = 0
	}
	d.metrics.unitStarted(ctx)
	d.observers.started(key, steps)

	res, outcome, err := d.runJoint(ctx, key, joint, parts)
	if err != nil {
		d.metrics.unitFinished(ctx, OutcomeFailed, time.Since(started), nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error(ctx, "joint fit aborted", zap.Error(err))
		failed := skippedResult(AllPolarizations, 0, layout.Len(), "")
		failed.Skipped = false
		failed.Error = err.Error()
		d.observers.finished(key, failed)
		return nil, err
	}
	d.metrics.unitFinished(ctx, outcome, time.Since(started), &res.Result)
	d.observers.finished(key, res.Result)

	res.RunID = runID
	res.Mode = o.Mode.String()
	res.Names = layout.Names()
	res.FreeNames = layout.FreeNames()
	res.Started = started
	res.Duration = time.Since(started).Seconds()

	span.SetAttributes(attribute.String("fit.outcome", outcome))
	span.SetStatus(codes.Ok, "")
	d.logger.Info(ctx, "joint fit finished", zap.Duration("duration", time.Since(started)))
	return res, nil
}

func (d *Driver) runJoint(ctx context.Context, key UnitKey, joint *likelihood.Joint, parts []jointPart) (*JointReport, string, error) {
	o := d.opts
	layout := joint.Layout()
	res := UnitResult{Polarization: AllPolarizations}
	outcome := OutcomeFitted

	if o.NoFit {
		full := layout.Initial()
		res.Best, res.Median, res.Lower, res.Upper, res.Reported = full, full, full, full, full
		res.Acceptance = Value(math.NaN())
		res.MaxLogProb = Value(joint.LogProb(layout.InitialFree()))
		outcome = OutcomeEvaluated
	} else if err := d.sample(ctx, key, 0, joint, layout, &res); err != nil {
		return nil, OutcomeFailed, err
	}

	rep := &JointReport{Parts: make([]JointPart, len(parts))}
	res.Dof = joint.Dim()
	terms, err := joint.Chi2(res.Reported)
	switch {
	case errors.Is(err, phasemap.ErrOutsideGrid):
		d.logger.Warn(ctx, "reported vector lies outside the phase map", zap.Error(err))
		res.Chi2 = nanRow(int(observation.NumKinds))
		res.ReducedChi2 = nanRow(int(observation.NumKinds))
	case err != nil:
		return nil, OutcomeFailed, err
	default:
		reduced, err := joint.ReducedChi2(res.Reported)
		if err != nil {
			return nil, OutcomeFailed, err
		}
		res.Chi2 = termsRow(terms)
		res.ReducedChi2 = termsRow(reduced)
	}
	rep.Result = res

	for p, part := range parts {
		theta, err := joint.Split(res.Reported, p)
		if err != nil {
			return nil, OutcomeFailed, err
		}
		jp := JointPart{
			File:         part.file + 1,
			Polarization: part.unit.Polarization,
			DIT:          part.unit.DIT,
			Reported:     theta,
		}
		pr := UnitResult{Reported: theta}
		if err := d.evaluateReported(ctx, &pr, part.target, part.model, part.smp); err != nil {
			return nil, OutcomeFailed, err
		}
		jp.Chi2, jp.ReducedChi2, jp.Model = pr.Chi2, pr.ReducedChi2, pr.Model
		rep.Parts[p] = jp
	}

	d.logger.Info(ctx, "joint fit "+outcome,
		zap.Float64("max_log_prob", float64(res.MaxLogProb)),
		zap.Float64s("reported", res.Reported),
	)
	return rep, outcome, nil
}
