// Package setup builds the connector and its collaborators from
// configuration. The OAuth2 token source and both HTTP clients are
// constructed here, owned by the process entry point, and handed to
// the components that need them.
package setup

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"gorm.io/gorm"

	"github.com/deskbridge/deskbridge/internal/config"
	"github.com/deskbridge/deskbridge/internal/db"
	"github.com/deskbridge/deskbridge/pkg/bookings"
	"github.com/deskbridge/deskbridge/pkg/bossdesk"
	"github.com/deskbridge/deskbridge/pkg/connector"
	"github.com/deskbridge/deskbridge/pkg/mapper"
)

// NewDB opens the sync state database described by the config.
func NewDB(cfg *config.Config, log hclog.Logger) (*gorm.DB, error) {
	return db.NewDB(db.Config{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}, log)
}

// NewConnector wires the pipeline: source client with its OAuth2
// transport, sink client with its API key, the mapper, and the state
// database.
func NewConnector(ctx context.Context, cfg *config.Config, database *gorm.DB, log hclog.Logger) (*connector.Connector, error) {
	retry := connector.RetryPolicy{
		MaxAttempts:     cfg.Sync.MaxAttempts,
		InitialInterval: connector.DefaultRetryPolicy().InitialInterval,
		MaxInterval:     connector.DefaultRetryPolicy().MaxInterval,
	}

	scope := cfg.Source.Scope
	if scope == "" {
		scope = cfg.Source.Endpoint + "/.default"
	}
	creds := &clientcredentials.Config{
		ClientID:     cfg.Source.ClientID,
		ClientSecret: cfg.Source.ClientSecret,
		TokenURL:     cfg.Source.TokenURL,
		Scopes:       []string{scope},
	}
	sourceClient := oauth2.NewClient(ctx, creds.TokenSource(ctx))
	sourceClient.Timeout = cfg.RequestTimeout()

	source := bookings.NewClient(
		cfg.Source.Endpoint,
		cfg.Source.BusinessID,
		sourceClient,
		bookings.WithLogger(log.Named("bookings")),
		bookings.WithRetryPolicy(retry),
		bookings.WithPageSize(cfg.Source.PageSize),
	)

	sink := bossdesk.NewClient(
		cfg.Sink.Endpoint,
		cfg.Sink.APIKey,
		&http.Client{Timeout: cfg.RequestTimeout()},
		bossdesk.WithLogger(log.Named("bossdesk")),
		bossdesk.WithRetryPolicy(retry),
	)

	conn, err := connector.New(
		connector.WithName("deskbridge"),
		connector.WithDatabase(database),
		connector.WithSource(source),
		connector.WithMapper(mapper.New(cfg.Sync.DefaultCategory, cfg.Sync.CategoryOverrides)),
		connector.WithSink(sink),
		connector.WithLeaseTTL(cfg.LeaseTTL()),
		connector.WithLogger(log.Named("connector")),
	)
	if err != nil {
		return nil, fmt.Errorf("building connector: %w", err)
	}
	return conn, nil
}
