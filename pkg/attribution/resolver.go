package attribution

import (
	"context"
	"time"

	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
)

// ClickSource finds a program's clicks for a set of visitor keys
type ClickSource interface {
	ClicksForVisitor(ctx context.Context, programID string, keys models.VisitorKeys, from, to time.Time) ([]*models.Click, error)
}

// IdentityResolver links a subscriber to the visitor keys seen on their other devices
type IdentityResolver interface {
	VisitorKeys(ctx context.Context, programID, subscriberID string) (models.VisitorKeys, error)
}

// StoreIdentityResolver links devices through clicks that carried the subscriber id
type StoreIdentityResolver struct {
	store *store.Store
}

// NewStoreIdentityResolver creates an identity resolver over the click table
func NewStoreIdentityResolver(st *store.Store) *StoreIdentityResolver {
	return &StoreIdentityResolver{store: st}
}

// VisitorKeys returns the cookie and session ids seen with the subscriber
func (r *StoreIdentityResolver) VisitorKeys(ctx context.Context, programID, subscriberID string) (models.VisitorKeys, error) {
	return r.store.VisitorKeysForSubscriber(ctx, programID, subscriberID)
}

// Resolver finds the clicks a conversion may be attributed to
type Resolver struct {
	clicks   ClickSource
	identity IdentityResolver
}

// NewResolver creates a resolver. identity may be nil when no cross-device
// linking is available.
func NewResolver(clicks ClickSource, identity IdentityResolver) *Resolver {
	return &Resolver{clicks: clicks, identity: identity}
}

// ClicksForConversion returns the program's clicks in the rule's window that
// share the conversion's cookie or session, plus, with cross-device tracking,
// the clicks of the subscriber's other devices. Lookup failures come back as
// *models.ExternalLookupError and are not retried.
func (r *Resolver) ClicksForConversion(ctx context.Context, conv *models.Conversion, rule *models.AttributionRule) ([]*models.Click, error) {
	if rule == nil {
		return nil, &models.ConfigurationError{ProgramID: conv.ProgramID, Missing: "attribution rule"}
	}

	keys := models.VisitorKeys{}.Merge(models.VisitorKeys{
		CookieIDs:  []string{conv.CookieID},
		SessionIDs: []string{conv.SessionID},
	})

	if rule.CrossDeviceTracking && conv.SubscriberID != "" {
		keys = keys.Merge(models.VisitorKeys{SubscriberIDs: []string{conv.SubscriberID}})
		if r.identity != nil {
			linked, err := r.identity.VisitorKeys(ctx, conv.ProgramID, conv.SubscriberID)
			if err != nil {
				return nil, &models.ExternalLookupError{Lookup: "identity", Err: err}
			}
			keys = keys.Merge(linked)
		}
	}

	if keys.Empty() {
		return nil, nil
	}

	clicks, err := r.clicks.ClicksForVisitor(ctx, conv.ProgramID, keys, conv.OccurredAt.Add(-rule.Window()), conv.OccurredAt)
	if err != nil {
		return nil, &models.ExternalLookupError{Lookup: "clicks", Err: err}
	}
	return clicks, nil
}
