package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/joshdurbin/product-cache/internal/cachekey"
	"github.com/joshdurbin/product-cache/internal/domain"
	"github.com/joshdurbin/product-cache/internal/repository"
)

// DriverName is the database/sql driver registered with the REGEXP function
const DriverName = "sqlite3_products"

const (
	defaultLookupLimit = 50
	maxLookupLimit     = 500
)

var patternCache sync.Map // pattern -> *regexp.Regexp

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", matchPattern, true)
		},
	})
}

// matchPattern backs the SQL "X REGEXP Y" operator, which SQLite calls as regexp(Y, X)
func matchPattern(pattern, value string) (bool, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp).MatchString(value), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	patternCache.Store(pattern, re)
	return re.MatchString(value), nil
}

const productColumns = `partition_key, external_id, title, title_translated, description,
	description_translated, price, original_price, price_synthetic, currency, image_url,
	merchant_link, source, rating, review_count, created_at, expires_at`

// Repository implements repository.ProductRepository using SQLite
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// New opens the database at databasePath and applies pending migrations
func New(databasePath string, logger *zap.Logger) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", databasePath)
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{
		db:     db,
		logger: logger.Named("durable-cache.sqlite"),
		now:    time.Now,
	}

	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *Repository) nowMillis() int64 {
	return r.now().UTC().UnixMilli()
}

// HasSufficientCoverage reports whether at least minCount live products exist for key
func (r *Repository) HasSufficientCoverage(ctx context.Context, key string, minCount int) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM products WHERE partition_key = ? AND expires_at > ?",
		key, r.nowMillis()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count products for %s: %w", key, err)
	}
	return count >= minCount, nil
}

// Query returns up to limit live products for key, most recently created first
func (r *Repository) Query(ctx context.Context, key string, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = domain.DefaultMaxResults
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE partition_key = ? AND expires_at > ?
		ORDER BY created_at DESC, id ASC
		LIMIT ?`,
		key, r.nowMillis(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query products for %s: %w", key, err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// Upsert stores products under key with expiry ttlDays from now.
// Products without a merchant link are skipped.
func (r *Repository) Upsert(ctx context.Context, products []domain.Product, key string, ttlDays int) error {
	if len(products) == 0 {
		return nil
	}
	if ttlDays <= 0 {
		ttlDays = domain.DefaultDurableTTL
	}

	now := r.now().UTC()
	createdAt := now.UnixMilli()
	expiresAt := now.Add(time.Duration(ttlDays) * 24 * time.Hour).UnixMilli()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (partition_key, external_id) DO UPDATE SET
			title                  = excluded.title,
			title_translated       = excluded.title_translated,
			description            = excluded.description,
			description_translated = excluded.description_translated,
			price                  = excluded.price,
			original_price         = excluded.original_price,
			price_synthetic        = excluded.price_synthetic,
			currency               = excluded.currency,
			image_url              = excluded.image_url,
			merchant_link          = excluded.merchant_link,
			source                 = excluded.source,
			rating                 = excluded.rating,
			review_count           = excluded.review_count,
			created_at             = excluded.created_at,
			expires_at             = excluded.expires_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	skipped := 0
	for _, p := range products {
		if p.MerchantLink == "" || p.ExternalID == "" {
			skipped++
			continue
		}

		var originalPrice sql.NullString
		if p.OriginalPrice != nil {
			originalPrice = sql.NullString{String: p.OriginalPrice.String(), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			key, p.ExternalID, p.Title, p.TitleTranslated, p.Description,
			p.DescriptionTranslated, p.Price.String(), originalPrice, p.PriceSynthetic, p.Currency, p.ImageURL,
			p.MerchantLink, p.Source, p.Rating, p.ReviewCount, createdAt, expiresAt,
		); err != nil {
			return fmt.Errorf("failed to upsert product %s: %w", p.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}

	if skipped > 0 {
		r.logger.Warn("skipped products without link or id", zap.String("key", key), zap.Int("skipped", skipped))
	}
	return nil
}

// Lookup finds live products whose title or partition contains filter.Match
// and matches filter.Pattern. Both conditions are optional.
func (r *Repository) Lookup(ctx context.Context, filter domain.LookupFilter) ([]domain.Product, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLookupLimit
	}
	if limit > maxLookupLimit {
		limit = maxLookupLimit
	}

	where := []string{"expires_at > ?"}
	args := []any{r.nowMillis()}

	if filter.Match != "" {
		like := "%" + escapeLike(filter.Match) + "%"
		where = append(where, `(title LIKE ? ESCAPE '\' OR title_translated LIKE ? ESCAPE '\' OR partition_key LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}

	if filter.Pattern != "" {
		if _, err := regexp.Compile(filter.Pattern); err != nil {
			return nil, &domain.SearchError{Kind: domain.KindInvalidQuery, Message: "invalid pattern", Err: err}
		}
		where = append(where, "(title REGEXP ? OR title_translated REGEXP ? OR partition_key REGEXP ?)")
		args = append(args, filter.Pattern, filter.Pattern, filter.Pattern)
	}

	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC, id ASC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// DeleteByCategory removes every product whose partition is category or belongs to it
func (r *Repository) DeleteByCategory(ctx context.Context, category string) (int64, error) {
	prefix := category + cachekey.Separator
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM products WHERE partition_key = ? OR substr(partition_key, 1, length(?)) = ?",
		category, prefix, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to delete category %s: %w", category, err)
	}
	return result.RowsAffected()
}

// DeleteAll removes every product
func (r *Repository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM products")
	if err != nil {
		return 0, fmt.Errorf("failed to delete products: %w", err)
	}
	return result.RowsAffected()
}

// PurgeExpired physically removes products whose expiry has passed
func (r *Repository) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM products WHERE expires_at <= ?", r.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired products: %w", err)
	}
	return result.RowsAffected()
}

// Stats reports live and expired counts, with live counts grouped by category
func (r *Repository) Stats(ctx context.Context) (*domain.TierStats, error) {
	now := r.nowMillis()
	stats := &domain.TierStats{Categories: make(map[string]int64)}

	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM products WHERE expires_at <= ?", now).Scan(&stats.Expired); err != nil {
		return nil, fmt.Errorf("failed to count expired products: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			CASE WHEN instr(partition_key, ?) > 0
				THEN substr(partition_key, 1, instr(partition_key, ?) - 1)
				ELSE partition_key
			END AS category,
			COUNT(*)
		FROM products
		WHERE expires_at > ?
		GROUP BY category`,
		cachekey.Separator, cachekey.Separator, now)
	if err != nil {
		return nil, fmt.Errorf("failed to group products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		stats.Categories[category] = count
		stats.Entries += count
	}

	return stats, rows.Err()
}

// TrackQuery adds hits to a category and query combination
func (r *Repository) TrackQuery(ctx context.Context, category, query string, hits int, lastSeen time.Time) error {
	if hits <= 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracked_queries (category, query, hits, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (category, query) DO UPDATE SET
			hits      = hits + excluded.hits,
			last_seen = max(last_seen, excluded.last_seen)`,
		category, query, hits, lastSeen.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to track query: %w", err)
	}
	return nil
}

// TopQueries returns the most frequently served combinations
func (r *Repository) TopQueries(ctx context.Context, limit int) ([]domain.TrackedQuery, error) {
	if limit <= 0 {
		limit = defaultLookupLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT category, query, hits, last_seen
		FROM tracked_queries
		ORDER BY hits DESC, last_seen DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked queries: %w", err)
	}
	defer rows.Close()

	var queries []domain.TrackedQuery
	for rows.Next() {
		var q domain.TrackedQuery
		var lastSeen int64
		if err := rows.Scan(&q.Category, &q.Query, &q.Hits, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan tracked query: %w", err)
		}
		q.LastSeen = time.UnixMilli(lastSeen).UTC()
		queries = append(queries, q)
	}

	return queries, rows.Err()
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	products := []domain.Product{}
	for rows.Next() {
		var (
			p                    domain.Product
			price                string
			originalPrice        sql.NullString
			createdAt, expiresAt int64
		)
		if err := rows.Scan(
			&p.Category, &p.ExternalID, &p.Title, &p.TitleTranslated, &p.Description,
			&p.DescriptionTranslated, &price, &originalPrice, &p.PriceSynthetic, &p.Currency, &p.ImageURL,
			&p.MerchantLink, &p.Source, &p.Rating, &p.ReviewCount, &createdAt, &expiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}

		parsed, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("invalid stored price for %s: %w", p.ExternalID, err)
		}
		p.Price = parsed

		if originalPrice.Valid {
			if op, err := decimal.NewFromString(originalPrice.String); err == nil {
				p.OriginalPrice = &op
			}
		}

		created := time.UnixMilli(createdAt).UTC()
		expires := time.UnixMilli(expiresAt).UTC()
		p.CreatedAt = &created
		p.ExpiresAt = &expires

		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Ensure Repository implements the interface
var _ repository.ProductRepository = (*Repository)(nil)
