// Package shop is the storefront: catalog, cart, checkout, orders and the
// small back-office records, all persisted through the reconciled stores.
package shop

// ProductStatus is the catalog visibility of a product.
type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductDraft    ProductStatus = "draft"
	ProductArchived ProductStatus = "archived"
)

// OrderStatus tracks an order through manual payment and shipping.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderAwaitingPayment OrderStatus = "awaiting_payment"
	OrderPaid            OrderStatus = "paid"
	OrderShipped         OrderStatus = "shipped"
	OrderCancelled       OrderStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderAwaitingPayment, OrderPaid, OrderShipped, OrderCancelled:
		return true
	}
	return false
}

// PaymentMethod is how the customer pays off-platform.
type PaymentMethod string

const (
	PayCashApp       PaymentMethod = "cashapp"
	PayVenmo         PaymentMethod = "venmo"
	PayPayPalInvoice PaymentMethod = "paypal_invoice"
	PayOther         PaymentMethod = "other"
)

type Product struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Slug            string        `json:"slug"`
	Description     string        `json:"description"`
	Price           float64       `json:"price"`
	Category        string        `json:"category"`
	Tags            []string      `json:"tags"`
	Images          []string      `json:"images"`
	IsFeatured      bool          `json:"is_featured"`
	StockQuantity   int           `json:"stock_quantity"`
	Status          ProductStatus `json:"status"`
	Material        string        `json:"material,omitempty"`
	Gemstone        string        `json:"gemstone,omitempty"`
	GemstoneMeaning string        `json:"gemstone_meaning,omitempty"`
	ColorPalette    string        `json:"color_palette,omitempty"`
	CreatedAt       string        `json:"created_at"`
	UpdatedAt       string        `json:"updated_at"`
}

func (p Product) GetID() string { return p.ID }

type CartItem struct {
	ProductID string  `json:"product_id"`
	Product   Product `json:"product"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type Order struct {
	ID                   string        `json:"id"`
	UserID               string        `json:"user_id,omitempty"`
	Email                string        `json:"email"`
	ShippingName         string        `json:"shipping_name"`
	ShippingAddressLine1 string        `json:"shipping_address_line1"`
	ShippingAddressLine2 string        `json:"shipping_address_line2,omitempty"`
	ShippingCity         string        `json:"shipping_city"`
	ShippingState        string        `json:"shipping_state"`
	ShippingPostalCode   string        `json:"shipping_postal_code"`
	ShippingCountry      string        `json:"shipping_country"`
	Status               OrderStatus   `json:"status"`
	StatusUpdatedBy      string        `json:"status_updated_by,omitempty"`
	PaymentMethod        PaymentMethod `json:"payment_method"`
	PaymentReference     string        `json:"payment_reference,omitempty"`
	Subtotal             float64       `json:"subtotal"`
	ShippingCost         float64       `json:"shipping_cost"`
	TaxAmount            float64       `json:"tax_amount"`
	Total                float64       `json:"total"`
	CustomerNote         string        `json:"customer_note,omitempty"`
	Items                []OrderItem   `json:"items"`
	CreatedAt            string        `json:"created_at"`
	UpdatedAt            string        `json:"updated_at"`
}

type OrderItem struct {
	ID           string  `json:"id"`
	OrderID      string  `json:"order_id"`
	ProductID    string  `json:"product_id"`
	NameSnapshot string  `json:"name_snapshot"`
	UnitPrice    float64 `json:"unit_price"`
	Quantity     int     `json:"quantity"`
}

type BlogPost struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Slug        string   `json:"slug"`
	CoverImage  string   `json:"cover_image,omitempty"`
	Content     string   `json:"content"`
	Status      string   `json:"status"` // "draft" or "published"
	PublishedAt string   `json:"published_at,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	Tags        []string `json:"tags"`
}

func (b BlogPost) GetID() string { return b.ID }

type NewsletterSubscriber struct {
	Email        string `json:"email"`
	SubscribedAt string `json:"subscribedAt"`
	Source       string `json:"source"` // "homepage" or "footer"
}

type SocialLinks struct {
	Instagram string `json:"instagram,omitempty"`
	Facebook  string `json:"facebook,omitempty"`
	Twitter   string `json:"twitter,omitempty"`
}

type WebsiteSettings struct {
	SiteName      string       `json:"siteName,omitempty"`
	Tagline       string       `json:"tagline,omitempty"`
	AboutText     string       `json:"aboutText,omitempty"`
	ContactEmail  string       `json:"contactEmail,omitempty"`
	ContactPhone  string       `json:"contactPhone,omitempty"`
	SocialLinks   *SocialLinks `json:"socialLinks,omitempty"`
	HeroTitle     string       `json:"heroTitle,omitempty"`
	HeroSubtitle  string       `json:"heroSubtitle,omitempty"`
	HeroImage     string       `json:"heroImage,omitempty"`
	ShippingInfo  string       `json:"shippingInfo,omitempty"`
	ReturnPolicy  string       `json:"returnPolicy,omitempty"`
	LastUpdatedBy string       `json:"lastUpdatedBy,omitempty"`
	LastUpdatedAt string       `json:"lastUpdatedAt,omitempty"`
}

type ContactSubmission struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	OrderID   string `json:"orderId,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

type NotificationItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// OrderNotification is the record kept for each placed order.
type OrderNotification struct {
	OrderID        string             `json:"orderId"`
	CustomerEmail  string             `json:"customerEmail"`
	CustomerName   string             `json:"customerName"`
	Total          float64            `json:"total"`
	Items          []NotificationItem `json:"items"`
	PaymentMethod  PaymentMethod      `json:"paymentMethod"`
	Timestamp      string             `json:"timestamp"`
	AdminMailto    string             `json:"adminMailto"`
	CustomerMailto string             `json:"customerMailto"`
}
