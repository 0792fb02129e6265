package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/storage/postgres"
)

type menuItemJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Variants []struct {
		Name  string          `json:"name"`
		Price decimal.Decimal `json:"price"`
	} `json:"variants"`
	AddOns []struct {
		Name  string          `json:"name"`
		Price decimal.Decimal `json:"price"`
	} `json:"addOns"`
}

func main() {
	var (
		databaseURL string
		menuFile    string
		demoUser    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&menuFile, "menu-file", "db/seed/menu.json", "path to menu JSON file")
	flag.StringVar(&demoUser, "demo-user", "demo-user", "owner id of the seeded address")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, menuFile, demoUser); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, menuFile, demoUser string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedMenu(ctx, pool, menuFile); err != nil {
		return errors.Wrap(err, "seed menu")
	}
	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedAddress(ctx, pool, demoUser); err != nil {
		return errors.Wrap(err, "seed address")
	}
	if err := seedGiftCard(ctx, pool); err != nil {
		return errors.Wrap(err, "seed gift card")
	}
	return nil
}

func seedMenu(ctx context.Context, pool *pgxpool.Pool, menuFile string) error {
	slog.Info("reading menu file", slog.String("path", menuFile))

	data, err := os.ReadFile(menuFile)
	if err != nil {
		return errors.Wrap(err, "read menu file")
	}

	var items []menuItemJSON
	if err := json.Unmarshal(data, &items); err != nil {
		return errors.Wrap(err, "parse menu JSON")
	}

	slog.Info("upserting menu items", slog.Int("count", len(items)))

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, it := range items {
			b := &pgx.Batch{}
			b.Queue(`INSERT INTO menu_items (id, name, category) VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category`,
				it.ID, it.Name, it.Category)
			b.Queue(`DELETE FROM menu_variants WHERE item_id = $1`, it.ID)
			b.Queue(`DELETE FROM menu_add_ons WHERE item_id = $1`, it.ID)
			for i, v := range it.Variants {
				b.Queue(`INSERT INTO menu_variants (item_id, name, price, position) VALUES ($1, $2, $3, $4)`,
					it.ID, v.Name, v.Price, i)
			}
			for i, a := range it.AddOns {
				b.Queue(`INSERT INTO menu_add_ons (item_id, name, price, position) VALUES ($1, $2, $3, $4)`,
					it.ID, a.Name, a.Price, i)
			}
			if err := tx.SendBatch(ctx, b).Close(); err != nil {
				return errors.Wrapf(err, "upsert menu item %s", it.ID)
			}

			slog.Info("upserted menu item",
				slog.String("id", it.ID),
				slog.String("name", it.Name),
				slog.Int("variants", len(it.Variants)),
			)
		}
		return nil
	})
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding coupons")

	now := time.Now().UTC()
	coupons := []struct {
		code                     string
		pct, limit, minimumValue decimal.Decimal
	}{
		{"SAVE10", decimal.NewFromInt(10), decimal.NewFromInt(5), decimal.NewFromInt(20)},
		{"HAPPYHOURS", decimal.NewFromInt(18), decimal.NewFromInt(15), decimal.Zero},
	}

	for _, c := range coupons {
		if _, err := pool.Exec(ctx, `
			INSERT INTO coupons (code, discount_percentage, upper_limit, minimum_order_value, valid_from, valid_to, active)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE)
			ON CONFLICT (code) DO UPDATE SET
				discount_percentage = EXCLUDED.discount_percentage,
				upper_limit = EXCLUDED.upper_limit,
				minimum_order_value = EXCLUDED.minimum_order_value,
				valid_from = EXCLUDED.valid_from,
				valid_to = EXCLUDED.valid_to,
				active = TRUE`,
			c.code, c.pct, c.limit, c.minimumValue, now.AddDate(0, -1, 0), now.AddDate(1, 0, 0),
		); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}

		slog.Info("upserted coupon", slog.String("code", c.code))
	}
	return nil
}

func seedAddress(ctx context.Context, pool *pgxpool.Pool, owner string) error {
	if _, err := pool.Exec(ctx, `
		INSERT INTO addresses (id, owner_id, name, phone, line1, city, postal_code)
		VALUES ('addr-demo', $1, 'Demo Customer', '+10000000000', '1 Main St', 'Springfield', '00001')
		ON CONFLICT (id) DO UPDATE SET owner_id = EXCLUDED.owner_id`,
		owner,
	); err != nil {
		return err
	}

	slog.Info("upserted address", slog.String("id", "addr-demo"), slog.String("owner", owner))
	return nil
}

// seedGiftCard issues an unredeemed card so the gift card discount path can
// be exercised without a provider round trip.
func seedGiftCard(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
		INSERT INTO gift_cards (code, amount, recipient_name, recipient_email, purchaser_id, status, expires_at)
		VALUES ('GIFT-DEMO-0001', 20, 'Demo Customer', 'demo@example.com', 'seed', 'issued', now() + interval '1 year')
		ON CONFLICT (code) DO NOTHING`,
	); err != nil {
		return err
	}

	slog.Info("upserted gift card", slog.String("code", "GIFT-DEMO-0001"))
	return nil
}
