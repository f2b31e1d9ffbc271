// Package domain defines the product catalog, generation modes, and the
// persistence models shared across the repository, service, and transport
// layers.
package domain

// Category groups products that are offered together as samples.
type Category string

// Supported categories.
const (
	CategoryCV   Category = "cv"
	CategoryArt  Category = "art"
	CategoryLogo Category = "logo"
)

// Mode selects the quality of a generated artifact.
type Mode string

const (
	// ModePreview asks the backend for a watermarked/low-fidelity output.
	ModePreview Mode = "preview"
	// ModeFinal asks the backend for the clean deliverable.
	ModeFinal Mode = "final"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModePreview || m == ModeFinal }

// Product is a purchasable product type.
//
// Price is expressed in the smallest currency unit and is always positive.
type Product struct {
	ID       string
	Label    string
	Category Category
	Price    int64
}

// IsCV reports whether the product collects personal details rather than an idea.
func (p Product) IsCV() bool { return p.Category == CategoryCV }

// Catalog is the immutable product table. It is safe for concurrent use
// because it is never mutated after construction.
type Catalog struct {
	byID       map[string]Product
	byCategory map[Category][]Product
	categories []Category
}

// NewCatalog builds a catalog from products. Products keep their given order
// within a category. Duplicate IDs and non-positive prices are dropped.
func NewCatalog(products ...Product) *Catalog {
	c := &Catalog{
		byID:       make(map[string]Product, len(products)),
		byCategory: make(map[Category][]Product),
	}
	for _, p := range products {
		if p.ID == "" || p.Price <= 0 {
			continue
		}
		if _, dup := c.byID[p.ID]; dup {
			continue
		}
		if _, seen := c.byCategory[p.Category]; !seen {
			c.categories = append(c.categories, p.Category)
		}
		c.byID[p.ID] = p
		c.byCategory[p.Category] = append(c.byCategory[p.Category], p)
	}
	return c
}

// DefaultCatalog returns the products offered by the shop.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Product{ID: "cv_professional", Label: "Professional CV", Category: CategoryCV, Price: 2500},
		Product{ID: "cv_executive", Label: "Executive CV", Category: CategoryCV, Price: 4500},
		Product{ID: "art_artistic", Label: "Artistic", Category: CategoryArt, Price: 3000},
		Product{ID: "art_fantasy", Label: "Fantasy", Category: CategoryArt, Price: 4500},
		Product{ID: "art_ultrarealistic", Label: "Ultra-Realistic", Category: CategoryArt, Price: 12000},
		Product{ID: "logo", Label: "Logo Sample", Category: CategoryLogo, Price: 1000},
	)
}

// Product looks up a product by ID.
func (c *Catalog) Product(id string) (Product, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Price returns the catalog price for id.
func (c *Catalog) Price(id string) (int64, bool) {
	p, ok := c.byID[id]
	return p.Price, ok
}

// HasCategory reports whether cat has at least one product.
func (c *Catalog) HasCategory(cat Category) bool {
	_, ok := c.byCategory[cat]
	return ok
}

// Products returns a copy of the products in cat, in catalog order.
func (c *Catalog) Products(cat Category) []Product {
	ps := c.byCategory[cat]
	out := make([]Product, len(ps))
	copy(out, ps)
	return out
}

// Categories returns categories in the order they were first declared.
func (c *Catalog) Categories() []Category {
	out := make([]Category, len(c.categories))
	copy(out, c.categories)
	return out
}
