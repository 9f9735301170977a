package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
	"github.com/Cheertaboi/storefront-order-service/internal/repository"
)

type RatingCategory string

const (
	RatingService RatingCategory = "service"
	RatingFood    RatingCategory = "food"
)

var DefaultTipTargets = []string{"barista", "cook"}

// ReviewFlow runs the post-completion feedback dialog, one session per
// customer. Sessions only start from a completion event; input for a
// customer without a session is refused with ErrNoActiveSession.
type ReviewFlow struct {
	mu       sync.Mutex
	sessions map[string]*models.ReviewSession

	store      repository.ReviewStore
	notify     *Dispatcher
	tipTargets []string
	logger     *zap.Logger
	now        func() time.Time
}

func NewReviewFlow(store repository.ReviewStore, notify *Dispatcher, tipTargets []string, logger *zap.Logger) *ReviewFlow {
	if len(tipTargets) == 0 {
		tipTargets = DefaultTipTargets
	}
	return &ReviewFlow{
		sessions:   make(map[string]*models.ReviewSession),
		store:      store,
		notify:     notify,
		tipTargets: tipTargets,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start opens a session for the order's customer, replacing any unfinished
// one, and asks for the service rating.
func (f *ReviewFlow) Start(o *models.Order) models.ReviewSession {
	f.mu.Lock()
	defer f.mu.Unlock()

	if prev, ok := f.sessions[o.CustomerID]; ok {
		f.logger.Info("replacing unfinished review session",
			zap.String("customer_id", o.CustomerID),
			zap.String("previous_order_id", prev.OrderID),
		)
	}
	s := &models.ReviewSession{
		CustomerID:   o.CustomerID,
		OrderID:      o.ID,
		DeliveryMode: o.DeliveryMode,
		Step:         models.ReviewAwaitingServiceRating,
		CreatedAt:    f.now(),
	}
	f.sessions[o.CustomerID] = s
	f.prompt(s, "How was our service?", ratingActions(RatingService))
	return *s
}

// Session returns a copy of the customer's active session.
func (f *ReviewFlow) Session(customerID string) (models.ReviewSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[customerID]
	if !ok {
		return models.ReviewSession{}, false
	}
	return *s, true
}

func (f *ReviewFlow) SubmitRating(ctx context.Context, customerID string, category RatingCategory, value int) (models.ReviewSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.active(customerID)
	if err != nil {
		return models.ReviewSession{}, err
	}
	if value < 1 || value > 5 {
		return *s, &ValidationError{Field: "rating", Message: "must be between 1 and 5"}
	}

	switch {
	case s.Step == models.ReviewAwaitingServiceRating && category == RatingService:
		s.ServiceRating = value
		s.Step = models.ReviewAwaitingFoodRating
		f.prompt(s, "And how was the food?", ratingActions(RatingFood))
	case s.Step == models.ReviewAwaitingFoodRating && category == RatingFood:
		s.FoodRating = value
		if tipEligible(s) {
			s.Step = models.ReviewAwaitingTipDecision
			f.prompt(s, "Would you like to leave a tip?", []models.Action{
				{ID: "tip:yes", Label: "Yes"},
				{ID: "tip:no", Label: "No, thanks"},
			})
		} else {
			f.askComment(s)
		}
	default:
		return *s, fmt.Errorf("%w: %s rating at step %s", ErrUnexpectedReviewInput, category, s.Step)
	}
	return *s, nil
}

// DecideTip answers the tip question. A recipient given along with an
// accepted tip skips the recipient prompt.
func (f *ReviewFlow) DecideTip(ctx context.Context, customerID string, accept bool, recipient string) (models.ReviewSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.active(customerID)
	if err != nil {
		return models.ReviewSession{}, err
	}
	if s.Step != models.ReviewAwaitingTipDecision {
		return *s, fmt.Errorf("%w: tip decision at step %s", ErrUnexpectedReviewInput, s.Step)
	}
	switch {
	case !accept:
		f.askComment(s)
	case recipient != "":
		if err := f.setTipTarget(s, recipient); err != nil {
			return *s, err
		}
		f.askComment(s)
	default:
		s.Step = models.ReviewAwaitingTipTarget
		f.prompt(s, "Who would you like to thank?", tipTargetActions(f.tipTargets))
	}
	return *s, nil
}

func (f *ReviewFlow) ChooseTipTarget(ctx context.Context, customerID, recipient string) (models.ReviewSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.active(customerID)
	if err != nil {
		return models.ReviewSession{}, err
	}
	if s.Step != models.ReviewAwaitingTipTarget {
		return *s, fmt.Errorf("%w: tip target at step %s", ErrUnexpectedReviewInput, s.Step)
	}
	if err := f.setTipTarget(s, recipient); err != nil {
		return *s, err
	}
	f.askComment(s)
	return *s, nil
}

// SubmitComment records the comment (or skips it) and finalizes the session
// with a single store write. If the write fails the session stays at the
// comment step.
func (f *ReviewFlow) SubmitComment(ctx context.Context, customerID, text string, skip bool) (models.ReviewSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.active(customerID)
	if err != nil {
		return models.ReviewSession{}, err
	}
	if s.Step != models.ReviewAwaitingComment {
		return *s, fmt.Errorf("%w: comment at step %s", ErrUnexpectedReviewInput, s.Step)
	}

	final := *s
	if !skip {
		final.Comment = text
	}
	final.Step = models.ReviewFinalized
	final.FinalizedAt = f.now()
	if err := f.store.SaveReview(ctx, final); err != nil {
		return *s, fmt.Errorf("save review for order %s: %w", s.OrderID, err)
	}
	delete(f.sessions, customerID)

	tone := ackTone(final.AverageRating())
	f.logger.Info("review finalized",
		zap.String("customer_id", customerID),
		zap.String("order_id", final.OrderID),
		zap.Float64("average", final.AverageRating()),
		zap.String("tone", tone),
	)
	f.notify.Customer(models.CustomerNotification{
		CustomerID: customerID,
		OrderID:    final.OrderID,
		Kind:       models.NotifyReviewThanks,
		Text:       thanksText(tone),
	})
	return final, nil
}

func (f *ReviewFlow) active(customerID string) (*models.ReviewSession, error) {
	s, ok := f.sessions[customerID]
	if !ok {
		return nil, ErrNoActiveSession
	}
	return s, nil
}

func (f *ReviewFlow) setTipTarget(s *models.ReviewSession, recipient string) error {
	if !slices.Contains(f.tipTargets, recipient) {
		return &ValidationError{Field: "recipient", Message: fmt.Sprintf("unknown tip recipient %q", recipient)}
	}
	s.TipTarget = recipient
	return nil
}

func (f *ReviewFlow) askComment(s *models.ReviewSession) {
	s.Step = models.ReviewAwaitingComment
	f.prompt(s, "Anything else you would like to tell us?", []models.Action{{ID: "comment:skip", Label: "Skip"}})
}

func (f *ReviewFlow) prompt(s *models.ReviewSession, text string, actions []models.Action) {
	f.notify.Customer(models.CustomerNotification{
		CustomerID: s.CustomerID,
		OrderID:    s.OrderID,
		Kind:       models.NotifyReviewPrompt,
		Text:       text,
		Actions:    actions,
	})
}

// Tips are offered only for a well rated in-person service.
func tipEligible(s *models.ReviewSession) bool {
	return s.ServiceRating >= 4 && s.DeliveryMode != models.DeliveryDelivery
}
