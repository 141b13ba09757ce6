package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CSCfi/sd-submit/pkg/api"
	"github.com/CSCfi/sd-submit/pkg/auth"
	"github.com/CSCfi/sd-submit/pkg/clients"
	"github.com/CSCfi/sd-submit/pkg/config"
	"github.com/CSCfi/sd-submit/pkg/files"
	"github.com/CSCfi/sd-submit/pkg/health"
	"github.com/CSCfi/sd-submit/pkg/metax"
	"github.com/CSCfi/sd-submit/pkg/project"
	"github.com/CSCfi/sd-submit/pkg/publish"
	"github.com/CSCfi/sd-submit/pkg/storage/sqlite"
	"github.com/CSCfi/sd-submit/pkg/xmlproc"
)

var (
	host string
	port int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SD Submit API server",
	Long:  `Starts the SD Submit API server and listens for HTTP requests.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return serve(ctx, fmt.Sprintf("%s:%d", host, port))
	},
}

func init() {
	serveCmd.Flags().StringVar(&host, "host", "0.0.0.0", "Host address to bind the server to")
	serveCmd.Flags().IntVar(&port, "port", 8080, "Port to bind the server to")
}

func serve(ctx context.Context, address string) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	db, err := sqlite.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	submissions := sqlite.NewSubmissionStore(db)
	objects := sqlite.NewObjectStore(db)
	fileStore := sqlite.NewFileStore(db)
	registrations := sqlite.NewRegistrationStore(db)
	apiKeys := sqlite.NewAPIKeyStore(db)

	authService := auth.NewService(cfg.JWTSecret, apiKeys)
	oidcProvider, err := auth.NewOIDCProvider(ctx, cfg.OIDC, cfg.RedirectURL())
	if err != nil {
		return err
	}

	pid := clients.NewPID(cfg.PID)
	dataciteClient := clients.NewDatacite(cfg.Datacite, cfg.DataciteDOIPrefix)
	metaxClient := clients.NewMetax(cfg.Metax)
	remsClient := clients.NewRems(cfg.REMS)
	rorClient := clients.NewRor(cfg.ROR)
	adminClient := clients.NewAdmin(cfg.Admin)
	keystoneClient := clients.NewKeystone(cfg.Keystone)

	provider, err := files.NewS3(ctx, cfg.S3)
	if err != nil {
		return err
	}

	projects := project.NewCached(project.NewLDAP(cfg.LDAP))
	mapper := metax.NewMapper(metaxClient, rorClient)

	publisher := publish.New(
		publish.Stores{
			Submissions:   submissions,
			Objects:       objects,
			Files:         fileStore,
			Registrations: registrations,
		},
		pid, dataciteClient, metaxClient, remsClient, adminClient,
		mapper, metaxClient, provider, cfg.REMSDiscoveryURL,
	)

	aggregator := health.New(
		pid.Service(),
		dataciteClient.Service(),
		metaxClient.Service(),
		remsClient.Service(),
		rorClient.Service(),
		adminClient.Service(),
		keystoneClient.Service(),
	)

	router := api.NewRouter(api.Deps{
		DB:            db.DB(),
		Submissions:   submissions,
		Objects:       objects,
		Registrations: registrations,
		Auth:          authService,
		OIDC:          oidcProvider,
		Projects:      projects,
		Publisher:     publisher,
		Rems:          remsClient,
		Provider:      provider,
		Processor:     xmlproc.New(),
		Health:        aggregator,
		SecureCookie:  cfg.OIDC.SecureCookie,
	})

	return api.Serve(ctx, address, router)
}
