// Command seed-db applies the schema and upserts a demo catalog, customers
// and an admin API key.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/offer"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type seedFile struct {
	Offers    []offerJSON    `json:"offers"`
	Products  []productJSON  `json:"products"`
	Customers []customerJSON `json:"customers"`
}

type offerJSON struct {
	ID            string `json:"id"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	Scope         string `json:"scope"`
	Type          string `json:"type"`
	Discount      int64  `json:"discount"`
	Condition     *int64 `json:"condition"`
	TotalQuantity int    `json:"totalQuantity"`
}

type productJSON struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Images         []string `json:"images"`
	SpecialOfferID *string  `json:"specialOfferId"`
	Variants       []struct {
		ID       string `json:"id"`
		Price    int64  `json:"price"`
		Quantity int    `json:"quantity"`
		Size     string `json:"size"`
		Color    string `json:"color"`
	} `json:"variants"`
}

type customerJSON struct {
	ID        string             `json:"id"`
	FirstName string             `json:"firstName"`
	LastName  string             `json:"lastName"`
	Email     string             `json:"email"`
	Phone     string             `json:"phone"`
	Addresses []customer.Address `json:"addresses"`
}

type options struct {
	databaseURL string
	dataFile    string
	apiKey      string
	pepper      string
	jwtSecret   string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.dataFile, "data-file", "db/seed/demo.json", "path to the demo data JSON file")
	flag.StringVar(&opts.apiKey, "api-key", "", "admin API key to seed (or STORE_SEED_API_KEY env)")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STORE_API_KEY_PEPPER env)")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "print demo customer tokens signed with this secret (or STORE_JWT_SECRET env)")
	flag.Parse()

	opts.databaseURL = orEnv(opts.databaseURL, "DATABASE_URL")
	opts.apiKey = orEnv(opts.apiKey, "STORE_SEED_API_KEY")
	opts.pepper = orEnv(opts.pepper, "STORE_API_KEY_PEPPER")
	opts.jwtSecret = orEnv(opts.jwtSecret, "STORE_JWT_SECRET")

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.apiKey == "" {
		lg.Fatal("API key is required: set --api-key or STORE_SEED_API_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func orEnv(v, env string) string {
	if v != "" {
		return v
	}
	return os.Getenv(env)
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	data, err := os.ReadFile(opts.dataFile)
	if err != nil {
		return errors.Wrap(err, "read data file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse data file")
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL, postgres.PoolOptions{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedOffers(ctx, lg, postgres.NewOfferRepository(pool), seed.Offers); err != nil {
		return errors.Wrap(err, "seed offers")
	}
	if err := seedProducts(ctx, lg, postgres.NewCatalogRepository(pool), seed.Products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCustomers(ctx, lg, postgres.NewCustomerRepository(pool), seed.Customers); err != nil {
		return errors.Wrap(err, "seed customers")
	}
	if err := seedAPIKey(ctx, lg, postgres.NewAPIKeyRepository(pool), opts.apiKey, opts.pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	if opts.jwtSecret != "" {
		if err := printTokens(lg, opts.jwtSecret, seed.Customers); err != nil {
			return errors.Wrap(err, "issue demo tokens")
		}
	}
	return nil
}

func seedOffers(ctx context.Context, lg *zap.Logger, repo *postgres.OfferRepository, in []offerJSON) error {
	offers := make([]offer.SpecialOffer, 0, len(in))
	for _, o := range in {
		so := offer.SpecialOffer{
			ID:            o.ID,
			Code:          o.Code,
			Name:          o.Name,
			Scope:         offer.Scope(o.Scope),
			Type:          offer.Type(o.Type),
			Discount:      o.Discount,
			Condition:     o.Condition,
			TotalQuantity: o.TotalQuantity,
		}
		if err := so.Validate(); err != nil {
			return errors.Wrapf(err, "offer %s", o.Code)
		}
		offers = append(offers, so)
	}
	if err := repo.UpsertOffers(ctx, offers); err != nil {
		return err
	}
	lg.Info("Upserted offers", zap.Int("count", len(offers)))
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo *postgres.CatalogRepository, in []productJSON) error {
	for _, p := range in {
		variants := make([]catalog.Variant, 0, len(p.Variants))
		for _, v := range p.Variants {
			variants = append(variants, catalog.Variant{
				ID: v.ID, ProductID: p.ID, Price: v.Price, Quantity: v.Quantity, Size: v.Size, Color: v.Color,
			})
		}
		product := catalog.Product{ID: p.ID, Name: p.Name, Images: p.Images, SpecialOfferID: p.SpecialOfferID}
		if err := repo.UpsertProduct(ctx, product, variants); err != nil {
			return err
		}
		lg.Info("Upserted product", zap.String("id", p.ID), zap.Int("variants", len(variants)))
	}
	return nil
}

func seedCustomers(ctx context.Context, lg *zap.Logger, repo *postgres.CustomerRepository, in []customerJSON) error {
	for _, c := range in {
		cust := customer.Customer{ID: c.ID, FirstName: c.FirstName, LastName: c.LastName, Email: c.Email, Phone: c.Phone}
		if err := repo.UpsertCustomer(ctx, cust, c.Addresses); err != nil {
			return err
		}
		lg.Info("Upserted customer", zap.String("id", c.ID), zap.Int("addresses", len(c.Addresses)))
	}
	return nil
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	key := auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: auth.HashAPIKey([]byte(pepper), apiKey),
		Name:    "Admin dashboard",
		Scopes:  []string{handler.ScopeOrdersRead, handler.ScopeOrdersWrite},
	}
	if err := repo.Upsert(ctx, key); err != nil {
		return err
	}
	lg.Info("Upserted API key", zap.String("id", key.ID), zap.Strings("scopes", key.Scopes))
	return nil
}

// printTokens logs a one-day bearer token per demo customer for manual
// testing.
func printTokens(lg *zap.Logger, secret string, customers []customerJSON) error {
	tokens, err := auth.NewTokenVerifier([]byte(secret))
	if err != nil {
		return err
	}
	for _, c := range customers {
		tok, err := tokens.Issue(c.ID, time.Now(), 24*time.Hour)
		if err != nil {
			return err
		}
		lg.Info("Demo customer token", zap.String("customer_id", c.ID), zap.String("token", tok))
	}
	return nil
}
