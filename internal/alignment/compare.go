package alignment

import (
	"context"
	"image"
)

// Outcome is the result of one method in a comparison.
type Outcome struct {
	Method string
	Result *Result
	Err    error
}

// Comparison holds the outcomes of several methods on the same image pair.
type Comparison struct {
	Outcomes []Outcome
}

// Compare aligns img onto ref with each aligner in turn. Methods run one
// after another so their timings are comparable; a failing method does not
// stop the others.
func Compare(ctx context.Context, img, ref image.Image, aligners ...Aligner) Comparison {
	var c Comparison
	for _, a := range aligners {
		if err := ctx.Err(); err != nil {
			c.Outcomes = append(c.Outcomes, Outcome{Method: a.Method(), Err: err})
			continue
		}
		res, err := a.Align(ctx, img, ref)
		c.Outcomes = append(c.Outcomes, Outcome{Method: a.Method(), Result: res, Err: err})
	}
	return c
}

// Fastest returns the successful outcome with the lowest elapsed time.
func (c Comparison) Fastest() (Outcome, bool) {
	return c.pick(func(a, b *Result) bool { return a.Elapsed < b.Elapsed })
}

// MostMatches returns the successful outcome with the most matches.
func (c Comparison) MostMatches() (Outcome, bool) {
	return c.pick(func(a, b *Result) bool { return a.Matches > b.Matches })
}

// pick returns the first successful outcome not beaten under better.
func (c Comparison) pick(better func(a, b *Result) bool) (Outcome, bool) {
	var best Outcome
	found := false
	for _, o := range c.Outcomes {
		if o.Err != nil || o.Result == nil {
			continue
		}
		if !found || better(o.Result, best.Result) {
			best, found = o, true
		}
	}
	return best, found
}
