// Package bootstrap brings a process from configuration to live services in
// a fixed sequence of phases, applying stage migrations between service
// tiers, and tears everything down through a single resource registry.
//
// Usage:
//
//	bctx, err := bootstrap.BuildContext(config.Options{ConfigFile: path})
//	if err != nil {
//	    return err
//	}
//	orch := bootstrap.New(bctx, bootstrap.Options{Logger: logger})
//	if err := orch.UseDefaults(); err != nil {
//	    return err
//	}
//	if _, err := orch.Run(ctx); err != nil {
//	    return err // already torn down
//	}
//	defer orch.Shutdown()
package bootstrap
