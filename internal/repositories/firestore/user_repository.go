package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/subscription-ordering/api/internal/domain"
	pfirestore "github.com/subscription-ordering/api/internal/platform/firestore"
	"github.com/subscription-ordering/api/internal/repositories"
)

const userCollection = "users"

// UserRepository persists marketplace accounts in Firestore.
type UserRepository struct {
	base  *pfirestore.Collection[userDocument]
	clock func() time.Time
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}

	base := pfirestore.NewCollection[userDocument](provider, userCollection)
	return &UserRepository{base: base, clock: time.Now}, nil
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// FindByID loads the user by document id.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, errors.New("user id is required")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return userFromDocument(doc), nil
}

// FindByEmail looks the user up by normalised email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	normalised := strings.ToLower(strings.TrimSpace(email))
	if normalised == "" {
		return domain.User{}, errors.New("email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", normalised).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.WrapError("users.findByEmail", status.Error(codes.NotFound, "user not found"))
	}
	return userFromDocument(docs[0]), nil
}

// Upsert writes the full user document.
func (r *UserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return domain.User{}, errors.New("user id is required")
	}

	doc := fromDomainUser(user, r.clock().UTC())
	result, err := r.base.Set(ctx, user.ID, doc)
	if err != nil {
		return domain.User{}, err
	}
	saved := toDomainUser(doc)
	saved.ID = user.ID
	if saved.UpdatedAt.IsZero() {
		saved.UpdatedAt = result.UpdateTime
	}
	return saved, nil
}

// DocumentPath constructs the document path for the provided user id.
func (r *UserRepository) DocumentPath(userID string) string {
	return fmt.Sprintf("%s/%s", userCollection, strings.TrimSpace(userID))
}

type userDocument struct {
	FirstName        string    `firestore:"firstName"`
	LastName         string    `firestore:"lastName"`
	Email            string    `firestore:"email"`
	Role             string    `firestore:"role"`
	Status           string    `firestore:"status"`
	CompanyName      string    `firestore:"companyName,omitempty"`
	PhoneNumber      string    `firestore:"phoneNumber,omitempty"`
	StripeCustomerID string    `firestore:"stripeCustomerId,omitempty"`
	StripeAccountID  string    `firestore:"stripeAccountId,omitempty"`
	DeviceTokens     []string  `firestore:"deviceTokens,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

func userFromDocument(doc pfirestore.Document[userDocument]) domain.User {
	user := toDomainUser(doc.Data)
	user.ID = doc.ID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = doc.CreateTime
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = doc.UpdateTime
	}
	return user
}

func toDomainUser(doc userDocument) domain.User {
	return domain.User{
		FirstName:        strings.TrimSpace(doc.FirstName),
		LastName:         strings.TrimSpace(doc.LastName),
		Email:            strings.TrimSpace(doc.Email),
		Role:             domain.UserRole(strings.ToLower(strings.TrimSpace(doc.Role))),
		Status:           domain.UserStatus(strings.ToLower(strings.TrimSpace(doc.Status))),
		CompanyName:      strings.TrimSpace(doc.CompanyName),
		PhoneNumber:      strings.TrimSpace(doc.PhoneNumber),
		StripeCustomerID: strings.TrimSpace(doc.StripeCustomerID),
		StripeAccountID:  strings.TrimSpace(doc.StripeAccountID),
		DeviceTokens:     cloneStringSlice(doc.DeviceTokens),
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}

func fromDomainUser(user domain.User, now time.Time) userDocument {
	doc := userDocument{
		FirstName:        strings.TrimSpace(user.FirstName),
		LastName:         strings.TrimSpace(user.LastName),
		Email:            strings.ToLower(strings.TrimSpace(user.Email)),
		Role:             strings.ToLower(strings.TrimSpace(string(user.Role))),
		Status:           strings.ToLower(strings.TrimSpace(string(user.Status))),
		CompanyName:      strings.TrimSpace(user.CompanyName),
		PhoneNumber:      strings.TrimSpace(user.PhoneNumber),
		StripeCustomerID: strings.TrimSpace(user.StripeCustomerID),
		StripeAccountID:  strings.TrimSpace(user.StripeAccountID),
		DeviceTokens:     dedupeStrings(user.DeviceTokens),
		CreatedAt:        user.CreatedAt,
		UpdatedAt:        now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.Status == "" {
		doc.Status = string(domain.UserStatusActive)
	}
	return doc
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
