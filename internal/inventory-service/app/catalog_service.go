package app

import (
	"context"
	"fmt"

	"github.com/jcmexdev/inventory-sagas/internal/inventory-service/domain"
)

// CreateProduct adds a product with its initial stock. An existing product
// is reported as domain.ErrProductExists and left untouched.
func (s *ReservationService) CreateProduct(ctx context.Context, productID string, quantity int) (domain.StockItem, error) {
	if productID == "" {
		return domain.StockItem{}, fmt.Errorf("%w: productId is required", domain.ErrInvalidRequest)
	}
	if quantity < 0 {
		return domain.StockItem{}, fmt.Errorf("%w: quantity must not be negative", domain.ErrInvalidRequest)
	}

	item := domain.StockItem{ProductID: productID, Quantity: quantity, UpdatedAt: s.clock.Now()}
	if err := s.repo.CreateProduct(ctx, item); err != nil {
		return domain.StockItem{}, err
	}
	s.logger.InfoContext(ctx, "product created", "product_id", productID, "quantity", quantity)
	return item, nil
}

func (s *ReservationService) ListStock(ctx context.Context) ([]domain.StockItem, error) {
	return s.repo.ListStock(ctx)
}
