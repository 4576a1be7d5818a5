package bootstrap

import (
	"context"
	"errors"

	"stageboot/api"
	"stageboot/service"
	"stageboot/storage"
)

// Names of the services UseDefaults provides.
const (
	ServiceState    = "state"
	ServiceSettings = "settings"
	ServiceAPI      = "api"
)

// UseDefaults declares the builtin migrations, the state and settings core
// services, the status API when api.enabled is set, and a task that reports
// migration drift.
func (o *Orchestrator) UseDefaults() error {
	for _, m := range storage.BuiltinMigrations() {
		if err := o.AddMigration(m); err != nil {
			return err
		}
	}

	// The store is opened in preflight and released by the registry entry
	// created there, so the service does not own it.
	if err := o.AddService(service.Definition{
		Name:      ServiceState,
		Tier:      service.Core,
		Unmanaged: true,
		Build: func(context.Context, service.Deps) (interface{}, error) {
			store := o.Store()
			if store == nil {
				return nil, errors.New("state store is not open")
			}
			return store, nil
		},
	}); err != nil {
		return err
	}

	if err := o.AddService(service.Definition{
		Name:      ServiceSettings,
		Tier:      service.Core,
		DependsOn: []string{ServiceState},
		Build: func(_ context.Context, deps service.Deps) (interface{}, error) {
			svc, err := deps.Get(ServiceState)
			if err != nil {
				return nil, err
			}
			return storage.NewSettingsStore(svc.(*storage.Store)), nil
		},
	}); err != nil {
		return err
	}

	settings := o.bctx.Settings()
	if settings.API.Enabled {
		if err := o.AddService(service.Definition{
			Name:      ServiceAPI,
			Tier:      service.App,
			DependsOn: []string{ServiceState},
			Build: func(_ context.Context, deps service.Deps) (interface{}, error) {
				svc, err := deps.Get(ServiceState)
				if err != nil {
					return nil, err
				}
				return api.NewServer(api.Config{
					Addr:      settings.API.Addr,
					RateLimit: settings.API.RateLimit,
					Burst:     settings.API.Burst,
				}, o.Runner(), svc.(*storage.Store), o.logger.Named("api")), nil
			},
		}); err != nil {
			return err
		}
		if err := o.OnReady(func() {
			if srv, err := service.Resolve[*api.Server](o.graph, ServiceAPI); err == nil {
				srv.SetReady(true)
			}
		}); err != nil {
			return err
		}
	}

	return o.AddStartupTask(StartupTask{
		Name:     "verify-migrations",
		Optional: true,
		Run: func(ctx context.Context, _ *service.Graph) error {
			issues, err := o.Runner().VerifyIntegrity(ctx)
			if err != nil {
				return err
			}
			for _, issue := range issues {
				o.logger.Warnw("Migration drift detected", "issue", issue)
			}
			return nil
		},
	})
}
