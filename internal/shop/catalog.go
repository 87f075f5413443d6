package shop

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/zot/shopsync/internal/config"
	"github.com/zot/shopsync/internal/local"
	"github.com/zot/shopsync/internal/overlay"
)

const (
	ProductsDataset  = "products.json"
	BlogPostsDataset = "blog-posts.json"
	productsKey      = "products"
	blogPostsKey     = "blog_posts"
)

var (
	ErrProductNotFound = errors.New("shop: product not found")
	ErrInvalidProduct  = errors.New("shop: invalid product")
)

// Catalog serves products and blog posts from the bundled datasets with
// admin edits layered on top.
type Catalog struct {
	products *overlay.Overlay[Product]
	posts    *overlay.Overlay[BlogPost]
	now      func() time.Time
}

func NewCatalog(cfg *config.Config, loader *overlay.Loader, store *local.Store) *Catalog {
	return &Catalog{
		products: overlay.New[Product](cfg, loader, store, ProductsDataset, productsKey),
		posts:    overlay.New[BlogPost](cfg, loader, store, BlogPostsDataset, blogPostsKey),
		now:      time.Now,
	}
}

// Load fetches both datasets.
func (c *Catalog) Load(ctx context.Context) {
	c.products.Load(ctx)
	c.posts.Load(ctx)
}

// Products returns every product, including drafts and archived ones.
func (c *Catalog) Products() []Product {
	return c.products.MergedView()
}

// ProductOverlay exposes the product dataset for resetting and dumping.
func (c *Catalog) ProductOverlay() *overlay.Overlay[Product] {
	return c.products
}

// PostOverlay exposes the blog dataset.
func (c *Catalog) PostOverlay() *overlay.Overlay[BlogPost] {
	return c.posts
}

// ActiveProducts returns the products visible in the shop.
func (c *Catalog) ActiveProducts() []Product {
	var out []Product
	for _, p := range c.Products() {
		if p.Status == ProductActive {
			out = append(out, p)
		}
	}
	return out
}

// Featured returns up to n active featured products.
func (c *Catalog) Featured(n int) []Product {
	var out []Product
	for _, p := range c.ActiveProducts() {
		if len(out) == n {
			break
		}
		if p.IsFeatured {
			out = append(out, p)
		}
	}
	return out
}

func (c *Catalog) ProductBySlug(slug string) (Product, bool) {
	for _, p := range c.Products() {
		if p.Slug == slug {
			return p, true
		}
	}
	return Product{}, false
}

func (c *Catalog) ProductByID(id string) (Product, bool) {
	for _, p := range c.Products() {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// SaveProduct creates p when its id is empty and replaces the product with
// the same id otherwise. The slug is always derived from the name.
func (c *Catalog) SaveProduct(p Product) (Product, error) {
	if p.Name == "" || p.Price < 0 || p.StockQuantity < 0 {
		return Product{}, ErrInvalidProduct
	}
	now := Timestamp(c.now())
	p.Slug = Slugify(p.Name)
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = ProductDraft
	}

	if p.ID == "" {
		p.ID = strconv.FormatInt(c.now().UnixMilli(), 10)
		p.CreatedAt = now
		return p, c.products.Update(func(cur []Product) []Product {
			return append(cur, p)
		})
	}

	found := false
	err := c.products.Update(func(cur []Product) []Product {
		for i := range cur {
			if cur[i].ID == p.ID {
				if p.CreatedAt == "" {
					p.CreatedAt = cur[i].CreatedAt
				}
				cur[i] = p
				found = true
			}
		}
		return cur
	})
	if err != nil {
		return Product{}, err
	}
	if !found {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

// DeleteProduct removes a product from the merged catalog. Bundled
// products always reappear in the merged view, so they are archived
// instead.
func (c *Catalog) DeleteProduct(id string) error {
	if _, ok := c.ProductByID(id); !ok {
		return ErrProductNotFound
	}
	bundled := slices.ContainsFunc(c.products.Bundled(), func(p Product) bool { return p.ID == id })
	now := Timestamp(c.now())
	return c.products.Update(func(cur []Product) []Product {
		if !bundled {
			return slices.DeleteFunc(cur, func(p Product) bool { return p.ID == id })
		}
		for i := range cur {
			if cur[i].ID == id {
				cur[i].Status = ProductArchived
				cur[i].UpdatedAt = now
			}
		}
		return cur
	})
}

// PublishedPosts returns published blog posts, optionally with tag.
func (c *Catalog) PublishedPosts(tag string) []BlogPost {
	var out []BlogPost
	for _, p := range c.posts.MergedView() {
		if p.Status != "published" {
			continue
		}
		if tag != "" && !slices.Contains(p.Tags, tag) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (c *Catalog) PostBySlug(slug string) (BlogPost, bool) {
	for _, p := range c.posts.MergedView() {
		if p.Slug == slug {
			return p, true
		}
	}
	return BlogPost{}, false
}
