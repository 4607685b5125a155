package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/subscription-ordering/api/internal/domain"
	pfirestore "github.com/subscription-ordering/api/internal/platform/firestore"
	"github.com/subscription-ordering/api/internal/repositories"
)

const connectedAccountCollection = "connected_accounts"

// ConnectedAccountRepository mirrors connected Stripe account state in Firestore.
type ConnectedAccountRepository struct {
	base *pfirestore.Collection[connectedAccountDocument]
}

// NewConnectedAccountRepository constructs a Firestore-backed connected account repository.
func NewConnectedAccountRepository(provider *pfirestore.Provider) (*ConnectedAccountRepository, error) {
	if provider == nil {
		return nil, errors.New("connected account repository requires firestore provider")
	}
	base := pfirestore.NewCollection[connectedAccountDocument](provider, connectedAccountCollection)
	return &ConnectedAccountRepository{base: base}, nil
}

var _ repositories.ConnectedAccountRepository = (*ConnectedAccountRepository)(nil)

// Upsert stores the latest onboarding snapshot under the Stripe account id.
func (r *ConnectedAccountRepository) Upsert(ctx context.Context, account domain.ConnectedAccount) error {
	if r == nil || r.base == nil {
		return errors.New("connected account repository not initialised")
	}
	if strings.TrimSpace(account.ID) == "" {
		return errors.New("connected account id is required")
	}
	_, err := r.base.Set(ctx, account.ID, connectedAccountDocument{
		ChargesEnabled:     account.ChargesEnabled,
		PayoutsEnabled:     account.PayoutsEnabled,
		OnboardingComplete: account.OnboardingComplete,
		RequirementsDue:    cloneStringSlice(account.RequirementsDue),
		DisabledReason:     strings.TrimSpace(account.DisabledReason),
		UpdatedAt:          account.UpdatedAt.UTC(),
	})
	return err
}

// FindByID loads the snapshot for a Stripe account id.
func (r *ConnectedAccountRepository) FindByID(ctx context.Context, accountID string) (domain.ConnectedAccount, error) {
	if r == nil || r.base == nil {
		return domain.ConnectedAccount{}, errors.New("connected account repository not initialised")
	}
	if strings.TrimSpace(accountID) == "" {
		return domain.ConnectedAccount{}, errors.New("connected account id is required")
	}
	doc, err := r.base.Get(ctx, accountID)
	if err != nil {
		return domain.ConnectedAccount{}, err
	}
	return domain.ConnectedAccount{
		ID:                 doc.ID,
		ChargesEnabled:     doc.Data.ChargesEnabled,
		PayoutsEnabled:     doc.Data.PayoutsEnabled,
		OnboardingComplete: doc.Data.OnboardingComplete,
		RequirementsDue:    cloneStringSlice(doc.Data.RequirementsDue),
		DisabledReason:     doc.Data.DisabledReason,
		UpdatedAt:          doc.Data.UpdatedAt,
	}, nil
}

type connectedAccountDocument struct {
	ChargesEnabled     bool      `firestore:"chargesEnabled"`
	PayoutsEnabled     bool      `firestore:"payoutsEnabled"`
	OnboardingComplete bool      `firestore:"onboardingComplete"`
	RequirementsDue    []string  `firestore:"requirementsDue"`
	DisabledReason     string    `firestore:"disabledReason,omitempty"`
	UpdatedAt          time.Time `firestore:"updatedAt"`
}
