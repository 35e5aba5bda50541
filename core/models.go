package core

import "time"

// Session is the authenticated identity reported by the identity provider.
// It is replaced wholesale on every change event.
type Session struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	DisplayName   string `json:"displayName"`
}

// UserProfile mirrors users/{id}. ID equals the owning Session id.
type UserProfile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"createdAt"`
	Rating      float64   `json:"rating"`
	ReviewCount int       `json:"reviewCount"`
	PhotoURL    *string   `json:"photoUrl,omitempty"`
}

type ProfileStatus string

const (
	StatusNewcomer ProfileStatus = "newcomer"
	StatusLocal    ProfileStatus = "local"
)

// Listing is a seller-created marketplace item. SellerID is fixed at creation.
type Listing struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Price       string `json:"price"`
	ImageURL    string `json:"imageUrl"`
	Description string `json:"description"`
	SellerID    string `json:"sellerId"`
}

type Review struct {
	ID           string    `json:"id"`
	ReviewerID   string    `json:"reviewerId"`
	ReviewerName string    `json:"reviewerName"`
	ReviewedID   string    `json:"reviewedId"`
	Rating       int       `json:"rating"`
	Comment      string    `json:"comment"`
	Timestamp    time.Time `json:"timestamp"`
}

type Locale string

const (
	LocaleRU Locale = "RU"
	LocaleEN Locale = "EN"
	LocaleKZ Locale = "KZ"
)

func (l Locale) Valid() bool {
	switch l {
	case LocaleRU, LocaleEN, LocaleKZ:
		return true
	}
	return false
}

// Preferences is process-wide and outlives sessions.
type Preferences struct {
	DarkMode bool   `json:"darkMode"`
	Locale   Locale `json:"locale"`
}

func DefaultPreferences() Preferences {
	return Preferences{DarkMode: false, Locale: LocaleRU}
}

// Document collections and field names.
const (
	CollectionUsers    = "users"
	CollectionProducts = "products"
	CollectionReviews  = "reviews"

	FieldDisplayName = "display_name"
	FieldEmail       = "email"
	FieldCreatedAt   = "created_at"
	FieldRating      = "rating"
	FieldReviewCount = "review_count"
	FieldPhotoURL    = "photo_url"

	FieldTitle       = "title"
	FieldPrice       = "price"
	FieldImageURL    = "image_url"
	FieldDescription = "description"
	FieldSellerID    = "seller_id"

	FieldReviewerID   = "reviewer_id"
	FieldReviewerName = "reviewer_name"
	FieldReviewedID   = "reviewed_id"
	FieldComment      = "comment"
	FieldTimestamp    = "timestamp"
)

// ============================================
// IDENTITY BACKEND RECORDS
// ============================================

// User represents an identity row in the account store
//
// This is the "identity" - who someone is
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	Name          string    `json:"name"`
	Image         *string   `json:"image,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Session returns the client-facing view of u.
func (u *User) Session() *Session {
	return &Session{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		DisplayName:   u.Name,
	}
}

// Account is the "credential" - how someone proves who they are
type Account struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ProviderID string    `json:"providerId"`
	AccountID  string    `json:"accountId"`
	Password   *string   `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

const CredentialProvider = "credential"

// SessionRecord is a stored login session.
type SessionRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenHash string    `json:"-"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type TokenPurpose string

const (
	PurposeVerifyEmail   TokenPurpose = "verify_email"
	PurposePasswordReset TokenPurpose = "password_reset"
)

// Token is a single-use emailed token. Only the hash is stored.
type Token struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	Purpose   TokenPurpose `json:"purpose"`
	TokenHash string       `json:"-"`
	ExpiresAt time.Time    `json:"expiresAt"`
	CreatedAt time.Time    `json:"createdAt"`
}

// SessionData combines user and session info
type SessionData struct {
	User    *User          `json:"user"`
	Session *SessionRecord `json:"session"`
}
