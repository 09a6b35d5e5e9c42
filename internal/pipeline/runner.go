package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"itemuploader/internal/models"
)

// Update reports the progress of one step. Status is one of the
// models.Step* values; Err is set when the step failed.
type Update struct {
	Step     int
	Total    int
	Title    string
	Status   string
	Err      error
	Duration time.Duration
}

// ProgressFunc receives step updates as RunAll advances.
type ProgressFunc func(Update)

type step struct {
	title string
	run   func(ctx context.Context) error
}

func (p *Pipeline) steps(shopCode string) []step {
	return []step{
		{"Build TEM_OUTPUT", p.Step1},
		{"Fill mandatory defaults", p.Step2},
		{"Fill FDA code", func(ctx context.Context) error { return p.Step3(ctx, true) }},
		{"Fill stock, shipping, weight and brand", p.Step4},
		{"Fill description, price and variation", p.Step5},
		{"Generate cover image URLs", func(ctx context.Context) error { return p.Step6(ctx, shopCode) }},
	}
}

// StepTitles lists the titles of the steps RunAll executes, in order.
func (p *Pipeline) StepTitles() []string {
	var out []string
	for _, s := range p.steps("") {
		out = append(out, s.title)
	}
	return out
}

// RunAll resets Failures and runs Steps 1 to 6 in order, stopping at the
// first failing step. Every step reports a started and a finished update
// through progress, which may be nil.
func (p *Pipeline) RunAll(ctx context.Context, shopCode string, progress ProgressFunc) ([]models.StepResult, error) {
	if progress == nil {
		progress = func(Update) {}
	}
	if err := ResetFailures(ctx, p.Main); err != nil {
		return nil, fmt.Errorf("reset %s: %w", FailuresTab, err)
	}

	steps := p.steps(shopCode)
	results := make([]models.StepResult, 0, len(steps))
	for i, s := range steps {
		n := i + 1
		log := logrus.WithFields(logrus.Fields{"step": n, "title": s.title, "spreadsheet": p.Main.ID()})
		if err := ctx.Err(); err != nil {
			return results, err
		}

		progress(Update{Step: n, Total: len(steps), Title: s.title, Status: models.StepStarted})
		log.Info("Step started")

		start := time.Now()
		err := s.run(ctx)
		res := models.StepResult{Step: n, Title: s.title, Success: err == nil, Duration: time.Since(start)}
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			log.WithError(err).Error("Step failed")
			progress(Update{Step: n, Total: len(steps), Title: s.title, Status: models.StepFailed, Err: err, Duration: res.Duration})
			return results, fmt.Errorf("step %d (%s): %w", n, s.title, err)
		}
		results = append(results, res)
		log.WithField("duration", res.Duration.String()).Info("Step finished")
		progress(Update{Step: n, Total: len(steps), Title: s.title, Status: models.StepSucceeded, Duration: res.Duration})
	}
	return results, nil
}
