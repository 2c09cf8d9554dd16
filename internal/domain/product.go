package domain

import (
	"github.com/google/uuid"
)

// ProductStatus is the lifecycle status of a listed product.
type ProductStatus int32

const (
	ProductStatusActive ProductStatus = iota
	ProductStatusInactive
	ProductStatusSold
	ProductStatusExpired
)

func (ps ProductStatus) String() string {
	switch ps {
	case ProductStatusActive:
		return "Active"
	case ProductStatusInactive:
		return "Inactive"
	case ProductStatusSold:
		return "Sold"
	case ProductStatusExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Product is the partial view of a listed product the core operates on.
// The product catalog is owned externally; the core reads quantity/status
// and writes status on terminal commitment (auction win, accepted offer).
type Product struct {
	ID               uuid.UUID
	SellerID         uuid.UUID
	Name             string
	Quantity         int64 // Units available
	Unit             string
	BasePrice        int64 // Minor units (e.g. cents)
	Currency         string
	MinOrderQuantity int64
	Status           ProductStatus
	Version          int64 // Optimistic concurrency control
}

// IsAvailable reports whether the product can still be committed to a buyer.
func (p *Product) IsAvailable() bool {
	return p.Status == ProductStatusActive && p.Quantity > 0
}
