package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// Commands provides command-line operations for the client
type Commands struct {
	client *Client
	out    io.Writer
}

// NewCommands creates a new Commands instance printing to stdout
func NewCommands(client *Client) *Commands {
	return &Commands{
		client: client,
		out:    os.Stdout,
	}
}

// Search runs a product search and displays the results
func (c *Commands) Search(ctx context.Context, query, category string, opts domain.Options) error {
	resp, err := c.client.Search(ctx, query, category, opts)
	if err != nil {
		return err
	}

	if resp.Error != "" {
		fmt.Fprintf(c.out, "Search failed (%s): %s\n", resp.ErrorCode, resp.Error)
		return nil
	}

	fmt.Fprintf(c.out, "Source: %s\n", resp.Source)
	fmt.Fprintf(c.out, "Category: %s\n", resp.Category)
	fmt.Fprintf(c.out, "Results: %d\n", resp.Count)
	if resp.Count == 0 {
		fmt.Fprintln(c.out, "No products found")
		return nil
	}

	c.printProducts(resp.Products)
	return nil
}

// Stats displays entry counts for both tiers
func (c *Commands) Stats(ctx context.Context) error {
	stats, err := c.client.Stats(ctx)
	if err != nil {
		return err
	}

	c.printTier("Fast tier", stats.Fast, stats.FastError)
	c.printTier("Durable tier", stats.Durable, stats.DurableError)
	return nil
}

// Clear removes cached entries and displays how many were removed
func (c *Commands) Clear(ctx context.Context, tier, category string) error {
	result, err := c.client.Clear(ctx, tier, category)
	if err != nil {
		return err
	}

	scope := "all categories"
	if result.Category != "" {
		scope = "category '" + result.Category + "'"
	}
	fmt.Fprintf(c.out, "Cleared %s tier for %s\n", result.Tier, scope)
	fmt.Fprintf(c.out, "Fast entries removed: %d\n", result.FastRemoved)
	fmt.Fprintf(c.out, "Durable products removed: %d\n", result.DurableRemoved)
	return nil
}

// Lookup displays stored products matching filter
func (c *Commands) Lookup(ctx context.Context, filter domain.LookupFilter) error {
	products, err := c.client.Lookup(ctx, filter)
	if err != nil {
		return err
	}

	if len(products) == 0 {
		fmt.Fprintln(c.out, "No products found")
		return nil
	}

	c.printProducts(products)
	return nil
}

func (c *Commands) printProducts(products []domain.Product) {
	fmt.Fprintf(c.out, "%-40s %-18s %-6s %-30s %s\n", "Title", "Price", "Cur", "Category", "Link")
	fmt.Fprintln(c.out, strings.Repeat("-", 140))

	for _, p := range products {
		title := p.Title
		if p.TitleTranslated != "" {
			title = p.TitleTranslated
		}
		price := p.Price.String()
		if p.PriceSynthetic {
			price += "*"
		}

		fmt.Fprintf(c.out, "%-40s %-18s %-6s %-30s %s\n",
			truncate(title, 40),
			price,
			p.Currency,
			truncate(p.Category, 30),
			p.MerchantLink,
		)
	}
}

func (c *Commands) printTier(name string, stats *domain.TierStats, errMsg string) {
	if errMsg != "" {
		fmt.Fprintf(c.out, "%s: unavailable (%s)\n", name, errMsg)
		return
	}
	if stats == nil {
		fmt.Fprintf(c.out, "%s: no data\n", name)
		return
	}

	fmt.Fprintf(c.out, "%s: %d entries", name, stats.Entries)
	if stats.Expired > 0 {
		fmt.Fprintf(c.out, " (%d expired)", stats.Expired)
	}
	fmt.Fprintln(c.out)

	categories := make([]string, 0, len(stats.Categories))
	for category := range stats.Categories {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		fmt.Fprintf(c.out, "  %-30s %d\n", category, stats.Categories[category])
	}
}

// truncate shortens s to n runes
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
