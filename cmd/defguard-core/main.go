// Command defguard-core runs the identity/VPN control plane: it loads
// configuration, opens storage, applies pending migrations, wires every
// provider the HTTP/WebSocket surface depends on, and serves until killed.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/defguard/defguard-core/internal/configuration"
	"github.com/defguard/defguard-core/internal/configuration/schema"
	"github.com/defguard/defguard-core/internal/configuration/validator"
	"github.com/defguard/defguard-core/internal/crypto/envelope"
	"github.com/defguard/defguard-core/internal/enrollment"
	"github.com/defguard/defguard-core/internal/gateway"
	"github.com/defguard/defguard-core/internal/ldapsource"
	"github.com/defguard/defguard-core/internal/logging"
	"github.com/defguard/defguard-core/internal/mfa"
	"github.com/defguard/defguard-core/internal/middlewares"
	"github.com/defguard/defguard-core/internal/network"
	"github.com/defguard/defguard-core/internal/notification"
	"github.com/defguard/defguard-core/internal/regulation"
	"github.com/defguard/defguard-core/internal/server"
	"github.com/defguard/defguard-core/internal/session"
	"github.com/defguard/defguard-core/internal/storage"
	"github.com/defguard/defguard-core/internal/storage/migrations"
	"github.com/defguard/defguard-core/internal/webauthn"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "defguard-core",
		Short: "defguard identity and WireGuard control plane",
		RunE:  runServe,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to an optional YAML configuration file")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "apply pending storage migrations and exit",
		RunE:  runMigrate,
	}

	root.AddCommand(migrate)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	config, err := loadAndValidate()
	if err != nil {
		return err
	}

	store, err := storage.Open(&config.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	return migrations.Apply(context.Background(), store.DB())
}

func runServe(cmd *cobra.Command, args []string) error {
	config, err := loadAndValidate()
	if err != nil {
		return err
	}

	if err := logging.Configure(config.Log.Level, config.Log.Format); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	logger := logging.Logger()

	store, err := storage.Open(&config.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	if err := migrations.Apply(context.Background(), store.DB()); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	providers, err := buildProviders(config, store)
	if err != nil {
		return fmt.Errorf("wire providers: %w", err)
	}

	logger.Infof("defguard-core starting, storage driver %q", config.Storage.Driver)

	server.Start(*config, providers)

	return nil
}

func loadAndValidate() (*schema.Configuration, error) {
	config, err := configuration.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	v := validator.ValidateConfiguration(config)
	for _, w := range v.Warnings() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	if v.HasErrors() {
		for _, e := range v.Errors() {
			fmt.Fprintf(os.Stderr, "error: %s\n", e)
		}

		return nil, fmt.Errorf("invalid configuration")
	}

	return config, nil
}

// buildProviders constructs every service the HTTP boundary (internal/middlewares,
// internal/server) depends on, wiring each one's storage/crypto/notification
// dependencies the way SPEC_FULL.md lays out the control plane's components.
func buildProviders(config *schema.Configuration, store *storage.Provider) (middlewares.Providers, error) {
	sealer, err := envelope.NewSealer(config.Secrets.SecretKey)
	if err != nil {
		return middlewares.Providers{}, fmt.Errorf("build envelope sealer: %w", err)
	}

	sessions := session.NewManager(
		store,
		[]byte(config.Secrets.AuthSecret),
		config.Session.Lifetime,
		config.Session.AdminElevationDuration,
		config.Session.Name,
		config.Session.Domain,
		config.Session.CookieInsecure,
	)

	regulator := regulation.New(store, config.Regulation)

	dispatcher := notification.LogDispatcher{}
	notifier := notification.EmailMFACodeNotifier{Dispatcher: dispatcher}

	preauth := mfa.NewPreAuthStore(config.Session.PreAuthLifetime)
	machine := mfa.NewMachine(preauth, store, regulator, notifier, sealer, config.TOTP.Digits, config.TOTP.Period)

	var ceremony *webauthn.Ceremony
	if !config.Webauthn.Disable {
		ceremony, err = webauthn.New(
			config.Server.ExternalURL,
			config.Webauthn.DisplayName,
			config.Webauthn.AttestationConveyancePreference,
			config.Webauthn.UserVerification,
			store,
		)
		if err != nil {
			return middlewares.Providers{}, fmt.Errorf("build webauthn ceremony: %w", err)
		}
	}

	netService := network.NewService(store)
	enrollService := enrollment.NewService(store, netService)
	gatewayHub := gateway.NewHub(netService, config.Secrets.GatewaySecret)

	var ldap *ldapsource.Source
	if config.AuthenticationBackend.LDAP != nil {
		ldap = ldapsource.New(config.AuthenticationBackend.LDAP)
	}

	return middlewares.Providers{
		Storage:    store,
		Sessions:   sessions,
		Regulator:  regulator,
		MFA:        machine,
		WebAuthn:   ceremony,
		Network:    netService,
		Enrollment: enrollService,
		Gateway:    gatewayHub,
		Notifier:   dispatcher,
		LDAP:       ldap,
	}, nil
}
