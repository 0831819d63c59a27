// Package model defines the records stored in each collection.
//
// Fields tagged omitempty are omitted from writes when unset, which is how a
// record leaves a field "undefined". Timestamps are RFC 3339 strings written
// by the client.
package model

// Collection paths in the store.
const (
	PathTours              = "tours"
	PathBlogs              = "blogs"
	PathBookings           = "bookings"
	PathNotifications      = "notifications"
	PathSettings           = "settings"
	PathPopupAds           = "popupAds"
	PathEmailNotifications = "emailNotifications"
)

// Status values per entity.
const (
	TourActive   = "active"
	TourInactive = "inactive"

	BlogDraft    = "draft"
	BlogPending  = "pending"
	BlogApproved = "approved"
	BlogRejected = "rejected"

	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
	BookingRejected  = "rejected"

	AdActive   = "active"
	AdInactive = "inactive"

	EmailQueued = "queued"
	EmailSent   = "sent"
	EmailFailed = "failed"
)

// Tour is a bookable trip.
type Tour struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Location    string   `json:"location"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price,omitempty"`
	Duration    string   `json:"duration,omitempty"`
	Category    string   `json:"category,omitempty"`
	Images      []string `json:"images,omitempty"`
	Status      string   `json:"status,omitempty"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

// Author identifies who wrote a blog post.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Blog is a user-submitted post awaiting moderation.
type Blog struct {
	ID              string   `json:"id,omitempty"`
	Title           string   `json:"title"`
	Content         string   `json:"content,omitempty"`
	Excerpt         string   `json:"excerpt,omitempty"`
	Author          Author   `json:"author"`
	Tags            []string `json:"tags,omitempty"`
	CoverImage      string   `json:"coverImage,omitempty"`
	Status          string   `json:"status,omitempty"`
	AdminNotes      string   `json:"adminNotes,omitempty"`
	RejectionReason string   `json:"rejectionReason,omitempty"`
	ApprovedAt      string   `json:"approvedAt,omitempty"`
	RejectedAt      string   `json:"rejectedAt,omitempty"`
	CreatedAt       string   `json:"createdAt,omitempty"`
	UpdatedAt       string   `json:"updatedAt,omitempty"`
}

// Booking is a customer's reservation of a tour.
type Booking struct {
	ID              string  `json:"id,omitempty"`
	TourID          string  `json:"tourId"`
	TourName        string  `json:"tourName,omitempty"`
	CustomerName    string  `json:"customerName,omitempty"`
	CustomerEmail   string  `json:"customerEmail,omitempty"`
	Phone           string  `json:"phone,omitempty"`
	Date            string  `json:"date,omitempty"`
	Guests          int     `json:"guests,omitempty"`
	TotalPrice      float64 `json:"totalPrice,omitempty"`
	Status          string  `json:"status,omitempty"`
	AdminNotes      string  `json:"adminNotes,omitempty"`
	RejectionReason string  `json:"rejectionReason,omitempty"`
	CancelReason    string  `json:"cancelReason,omitempty"`
	ConfirmedAt     string  `json:"confirmedAt,omitempty"`
	RejectedAt      string  `json:"rejectedAt,omitempty"`
	CancelledAt     string  `json:"cancelledAt,omitempty"`
	CreatedAt       string  `json:"createdAt,omitempty"`
	UpdatedAt       string  `json:"updatedAt,omitempty"`
}

// Notification is an in-app message shown in a user's bell.
type Notification struct {
	ID        string `json:"id,omitempty"`
	UserID    string `json:"userId"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`
	Type      string `json:"type,omitempty"`
	Link      string `json:"link,omitempty"`
	Read      bool   `json:"read"`
	ReadAt    string `json:"readAt,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Settings is the site-wide singleton.
type Settings struct {
	SiteName        string            `json:"siteName,omitempty"`
	ContactEmail    string            `json:"contactEmail,omitempty"`
	ContactPhone    string            `json:"contactPhone,omitempty"`
	Currency        string            `json:"currency,omitempty"`
	MaintenanceMode bool              `json:"maintenanceMode"`
	SocialLinks     map[string]string `json:"socialLinks,omitempty"`
	UpdatedAt       string            `json:"updatedAt,omitempty"`
}

// PopupAd is a promotional popup shown to visitors.
type PopupAd struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title"`
	ImageURL  string `json:"imageUrl,omitempty"`
	TargetURL string `json:"targetUrl,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// EmailNotification is an outgoing email queued for delivery.
type EmailNotification struct {
	ID        string `json:"id,omitempty"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Template  string `json:"template,omitempty"`
	BookingID string `json:"bookingId,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	SentAt    string `json:"sentAt,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}
