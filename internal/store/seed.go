package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jogardn/poultry-market/pkg/models"
)

// SeedProducts upserts the JSON array of products at path and returns how
// many were written. Restocking happens outside this service; the seed file
// is how inventory reaches a fresh store.
func SeedProducts(ctx context.Context, s Store, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var products []models.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return 0, fmt.Errorf("decode seed file: %w", err)
	}

	now := time.Now().UTC()
	for i := range products {
		p := &products[i]
		if p.ID == "" || p.SellerID == "" {
			return i, fmt.Errorf("seed product %d: id and seller_id are required", i)
		}
		if p.Stock < 0 {
			return i, fmt.Errorf("seed product %s: negative stock", p.ID)
		}
		if !p.Price.IsPositive() {
			return i, fmt.Errorf("seed product %s: price must be positive", p.ID)
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = now
		}
		if err := s.UpsertProduct(ctx, p); err != nil {
			return i, fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	return len(products), nil
}
