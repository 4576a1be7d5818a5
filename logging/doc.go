// Package logging provides the structured logging capability used across
// stageboot.
//
// A Logger has two variants: a real sink backed by zap, and a no-op stub
// returned by Nop. Both honour the same contract, including Named, which
// narrows a logger to a sub-category and always returns a new instance.
//
// The process-wide logger is installed once with Init and removed with
// Teardown:
//
//	logger, err := logging.Init(logging.Options{Level: "info"})
//	if err != nil {
//	    return err
//	}
//	defer logging.Teardown()
//
//	logging.L().Named("bootstrap").Infow("Starting", "run_id", id)
package logging
