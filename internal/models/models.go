package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// Supported site languages
const (
	LocaleEnglish = "en"
	LocaleFarsi   = "fa"
)

// ValidLocale reports whether l is a supported site language
func ValidLocale(l string) bool {
	return l == LocaleEnglish || l == LocaleFarsi
}

// User represents a site account. Role is "user" or "admin".
type User struct {
	BaseModel
	Email        string    `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	Role         string    `json:"role" gorm:"type:varchar(16);not null;default:user"`
	Locale       string    `json:"locale" gorm:"type:varchar(2);not null;default:en"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Appointment is an admin-published time slot. IsBooked is only ever
// flipped by creating or deleting the Booking that references it.
type Appointment struct {
	BaseModel
	StartsAt  time.Time `json:"starts_at" gorm:"not null;index"`
	EndsAt    time.Time `json:"ends_at" gorm:"not null"`
	Location  string    `json:"location"`
	Notes     string    `json:"notes"`
	IsBooked  bool      `json:"is_booked" gorm:"not null;default:false;index"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Booking claims one Appointment
type Booking struct {
	BaseModel
	AppointmentID string `json:"appointment_id" gorm:"type:varchar(26);uniqueIndex;not null"`
	UserID        string `json:"user_id" gorm:"type:varchar(26);index;not null"`
	Name          string `json:"name" gorm:"not null"`
	Email         string `json:"email" gorm:"not null"`
	Phone         string `json:"phone"`
	Message       string `json:"message" gorm:"type:text"`
	Locale        string `json:"locale" gorm:"type:varchar(2);not null;default:en"`

	// Relationships
	Appointment *Appointment `json:"appointment,omitempty" gorm:"foreignKey:AppointmentID;constraint:OnDelete:RESTRICT"`
	User        *User        `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Payment statuses
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// Payment records a charge against a user. Amount is in minor units.
type Payment struct {
	BaseModel
	UserID      string     `json:"user_id" gorm:"type:varchar(26);index;not null"`
	Amount      int64      `json:"amount" gorm:"not null"`
	Currency    string     `json:"currency" gorm:"type:varchar(3);not null"`
	Status      string     `json:"status" gorm:"type:varchar(16);not null;default:pending;index"`
	Provider    string     `json:"provider"`
	Reference   string     `json:"reference" gorm:"uniqueIndex;not null"`
	Description string     `json:"description"`
	PaidAt      *time.Time `json:"paid_at"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	User *User `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Message is one turn of a Conversation
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Conversation is a user's chat history, stored as a JSON column
type Conversation struct {
	BaseModel
	UserID    string    `json:"user_id" gorm:"type:varchar(26);index;not null"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages" gorm:"serializer:json;type:text"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	User *User `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// UsageRecord meters one feature use
type UsageRecord struct {
	BaseModel
	UserID     string    `json:"user_id" gorm:"type:varchar(26);index;not null"`
	Feature    string    `json:"feature" gorm:"not null;index"`
	Quantity   int64     `json:"quantity" gorm:"not null"`
	Unit       string    `json:"unit" gorm:"not null"`
	RecordedAt time.Time `json:"recorded_at" gorm:"not null;index"`

	User *User `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// SessionRecord backs the framework session store
type SessionRecord struct {
	Token  string    `gorm:"primaryKey;type:varchar(64)"`
	Data   []byte    `gorm:"not null"`
	Expiry time.Time `gorm:"not null;index"`
}

// TableName keeps the session table name stable
func (SessionRecord) TableName() string {
	return "sessions"
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	// Collect all models
	models := []interface{}{
		&User{}, &Appointment{}, &Booking{}, &Payment{}, &Conversation{}, &UsageRecord{}, &SessionRecord{},
	}

	return db.AutoMigrate(models...)
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}

// FindByIDWithPreload finds a record by ID with preloading
func FindByIDWithPreload[T any](db *gorm.DB, id string, model *T, preloads ...string) error {
	query := db
	for _, preload := range preloads {
		query = query.Preload(preload)
	}
	return query.Where("id = ?", id).First(model).Error
}
