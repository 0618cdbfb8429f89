// Command patientctl manages patient spreadsheets from a terminal. Sign-in
// uses a loopback redirect and the credential is cached in the local state
// file next to the selected spreadsheet.
package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/wolfman30/patient-sheets/cmd/mainconfig"
	"github.com/wolfman30/patient-sheets/internal/app/bootstrap"
	"github.com/wolfman30/patient-sheets/internal/clinicdata"
	"github.com/wolfman30/patient-sheets/internal/compliance"
	appconfig "github.com/wolfman30/patient-sheets/internal/config"
	"github.com/wolfman30/patient-sheets/internal/patients"
	"github.com/wolfman30/patient-sheets/internal/selection"
	"github.com/wolfman30/patient-sheets/internal/sheets"
	"github.com/wolfman30/patient-sheets/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	c := &cli{
		out:            os.Stdout,
		consentTimeout: cfg.ConsentTimeout,
		build: func(ctx context.Context, opts buildOptions) (*env, error) {
			return buildEnv(ctx, cfg, opts)
		},
	}
	if err := newRootCmd(c).Execute(); err != nil {
		os.Exit(1)
	}
}

// buildEnv opens the local state file and wires a session on top of it.
func buildEnv(ctx context.Context, cfg *appconfig.Config, opts buildOptions) (*env, error) {
	logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel)
	if opts.verbose {
		logger = logging.NewWithWriter(os.Stderr, "debug")
	}

	statePath := cfg.LocalStatePath
	if opts.statePath != "" {
		statePath = opts.statePath
	}
	store, err := selection.OpenSQLiteStore(ctx, statePath)
	if err != nil {
		return nil, err
	}
	selector := selection.NewSelector(store).WithLogger(logger)

	auditor, auditDB, err := bootstrap.BuildAuditService(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	session := bootstrap.BuildSession(cfg, bootstrap.SessionDeps{
		Selector:    selector,
		TokenCache:  sheets.NewStoreTokenCache(store),
		Logger:      logger,
		RedirectURL: opts.redirectURL,
	})
	exporterCfg := clinicdata.ExporterConfig{
		Bucket:    cfg.ExportBucket,
		Sheet:     session,
		Selection: selector,
		Auditor:   auditor,
		Logger:    logger,
	}
	if cfg.ExportBucket != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			if auditDB != nil {
				_ = auditDB.Close()
			}
			_ = store.Close()
			return nil, err
		}
		exporterCfg.S3 = mainconfig.NewS3Client(awsCfg, cfg)
	}

	return &env{
		session:  session,
		patients: patients.NewService(session, selector, auditor, logger),
		exporter: clinicdata.NewExporter(exporterCfg),
		auditor:  auditor,
		close: func() {
			if auditDB != nil {
				_ = auditDB.Close()
			}
			_ = store.Close()
		},
	}, nil
}

// actorContext tags ctx with the local OS user for access records.
func actorContext(ctx context.Context) context.Context {
	u, err := user.Current()
	if err != nil || strings.TrimSpace(u.Username) == "" {
		return compliance.WithActor(ctx, "patientctl")
	}
	return compliance.WithActor(ctx, fmt.Sprintf("local:%s", u.Username))
}
