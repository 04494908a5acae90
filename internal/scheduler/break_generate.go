package scheduler

import (
	"context"

	"github.com/airwaveops/radiod/internal/content"
)

// BreakGenerate fires at Sched.BreakGenerateMinute each hour and invokes
// the Content Generator for the upcoming hourly break (spec §4.5.2). It
// never overwrites next.break on failure: the generator itself only
// publishes on success, so a failed run simply leaves the previous
// next.break (or last_good.break) in place for Break Schedule to pick up.
func (t *Tasks) BreakGenerate(ctx context.Context) TaskResult {
	if t.now().Minute() != t.Sched.BreakGenerateMinute {
		return skipped()
	}

	res := t.Content.Generate(ctx, "break")
	switch res.Status {
	case content.StatusSkipped:
		return skipped()
	case content.StatusOK:
		return ok()
	default:
		return fail(res.Err)
	}
}
