// Package pipeline is the orchestration core of the review assistant.
//
// # Overview
//
// A pipeline is a tree of nodes built once at startup and never mutated
// while it runs:
//
//	Stage       one unit of work that writes exactly one context key
//	Sequential  children run once, in order, stopping on failure
//	Loop        children run repeatedly until an exit stage fires or the
//	            iteration cap is reached
//
// Every node reads from and writes to an ExecutionContext, a write-once
// key/value store owned by a single run. Stages never write directly; the
// enclosing pipeline records a stage's value under its output key when the
// stage completes.
//
// # Composition
//
// The Composer validates wiring before anything runs:
//
//	composer := pipeline.NewComposer(pipeline.WithSeedKeys("code"))
//	p, err := composer.Compose("CodeReviewPipeline",
//	    pipeline.Step(analyzer),
//	    pipeline.Step(styleChecker),
//	    pipeline.Step(synthesizer),
//	)
//	if err != nil {
//	    // errors.Is(err, pipeline.ErrConstruction)
//	}
//	outcome := p.Run(ctx, map[string]any{"code": src})
//
// Unsatisfied inputs, duplicate output keys, misplaced feedback keys and
// malformed loops are rejected with ErrConstruction.
//
// # Loops
//
// Each loop iteration sees the outer context, the latest values written by
// earlier iterations, and the outputs of earlier siblings in the current
// iteration. After every iteration the exit stage's value is inspected and
// the loop stops as soon as it signals success. When the cap is reached the
// loop reports ErrLoopExhausted, which does not stop an enclosing Sequential,
// so a synthesis stage can summarize the attempts from the LoopRecord.
//
// # Errors
//
// A RunOutcome's error is classified into one of ErrConstruction,
// ErrStageFailure, ErrLoopExhausted or ErrAborted (see Classify). Only
// loops retry, and only by re-running the whole iteration.
//
// # Concurrency
//
// A run is single threaded. Independent runs may execute concurrently as
// long as each owns its own ExecutionContext. Cancellation is checked at
// every stage boundary.
package pipeline
