package order

import (
	"context"
	"errors"
	"time"

	"marketplace-be/internal/apperror"
	"marketplace-be/internal/catalog"
	"marketplace-be/internal/logger"
	"marketplace-be/internal/metrics"
	"marketplace-be/internal/payment"
	"marketplace-be/internal/user"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error)
	GetOrder(ctx context.Context, id int64) (*Order, error)
	ListOrders(ctx context.Context, userID int64) ([]*Order, error)
	UpdateOrder(ctx context.Context, id int64, input UpdateOrderInput) (*Order, error)
	DeleteOrder(ctx context.Context, id int64) error
	CancelOrder(ctx context.Context, id int64) (*Order, error)

	ApplyPaymentSucceeded(ctx context.Context, paymentID, intentID string) (*Order, error)
	ApplyPaymentCanceled(ctx context.Context, paymentID, intentID string) (*Order, error)

	PurgeForDeletedProduct(ctx context.Context, productID int64) (int64, error)
	PurgeForDeletedSize(ctx context.Context, sizeID int64) (int64, error)
	PurgeForDeletedBrand(ctx context.Context, brandID int64) (int64, error)
}

type service struct {
	repo     Repository
	users    user.Repository
	catalog  catalog.Client
	gateway  payment.Gateway
	notifier StatusNotifier
	tracer   trace.Tracer
	now      func() time.Time
	newToken func() string
}

func NewService(repo Repository, users user.Repository, catalogClient catalog.Client, gateway payment.Gateway, notifier StatusNotifier) Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &service{
		repo:     repo,
		users:    users,
		catalog:  catalogClient,
		gateway:  gateway,
		notifier: notifier,
		tracer:   otel.Tracer("order-service"),
		now:      func() time.Time { return time.Now().UTC() },
		newToken: uuid.NewString,
	}
}

// CreateOrder validates every requested item against one batched catalog
// lookup before the payment gateway is touched, then stores the order with
// its payment link. Nothing is written if any step fails.
func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrder", trace.WithAttributes(
		attribute.Int64("user_id", input.UserID),
		attribute.Int("item_count", len(input.Items)),
	))
	defer span.End()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CreateOrder"),
		zap.Int64("user_id", input.UserID),
		zap.Int("item_count", len(input.Items)),
	)

	o, err := s.createOrder(ctx, log, input)
	if err != nil {
		metrics.OrderCreationFailures.WithLabelValues(string(apperror.KindOf(err))).Inc()
		span.RecordError(err)
		return nil, err
	}
	metrics.OrdersCreated.Inc()
	return o, nil
}

func (s *service) createOrder(ctx context.Context, log *zap.Logger, input CreateOrderInput) (*Order, error) {
	if len(input.Items) == 0 {
		return nil, apperror.BadRequest("Order must contain at least one item")
	}
	for _, item := range input.Items {
		if item.Quantity < 1 {
			return nil, apperror.BadRequest("Quantity for product with ID: %d must be at least 1", item.ProductID)
		}
	}

	// 1. User
	exists, err := s.users.Exists(ctx, input.UserID)
	if err != nil {
		log.Error("failed to check user", zap.Error(err))
		return nil, apperror.Internal("failed to check user", err)
	}
	if !exists {
		log.Warn("user not found")
		return nil, apperror.NotFound("User with ID: %d does not exist", input.UserID)
	}

	// 2. One batched catalog call for the distinct product ids
	snapshots, err := s.catalog.FetchProductsByIDs(ctx, distinctProductIDs(input.Items))
	if err != nil {
		log.Error("failed to fetch catalog products", zap.Error(err))
		return nil, err
	}

	// 3. All products first, 4. then all sizes: keeps error messages deterministic
	for _, item := range input.Items {
		if _, ok := snapshots[item.ProductID]; !ok {
			log.Warn("product not found", zap.Int64("product_id", item.ProductID))
			return nil, apperror.BadRequest("Product with ID: %d does not exist", item.ProductID)
		}
	}
	for _, item := range input.Items {
		if !snapshots[item.ProductID].HasSize(item.SizeID) {
			log.Warn("size not found",
				zap.Int64("product_id", item.ProductID),
				zap.Int64("size_id", item.SizeID),
			)
			return nil, apperror.BadRequest("Size with ID: %d does not exist for product with ID: %d", item.SizeID, item.ProductID)
		}
	}

	// 5. Items with the brand denormalized from the snapshot
	items := make([]OrderItem, 0, len(input.Items))
	lineItems := make([]payment.LineItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, OrderItem{
			ProductID: item.ProductID,
			SizeID:    item.SizeID,
			BrandID:   snapshots[item.ProductID].BrandID,
			Quantity:  item.Quantity,
		})
		lineItems = append(lineItems, payment.LineItem{
			ProductID: item.ProductID,
			SizeID:    item.SizeID,
			Quantity:  item.Quantity,
		})
	}

	// 6. Correlation token
	now := s.now()
	o := &Order{
		UserID:           input.UserID,
		PaymentID:        s.newToken(),
		Status:           StatusAwaitingPayment,
		Address:          input.Address,
		Description:      input.Description,
		Items:            items,
		CreationDateTime: now,
		UpdateDateTime:   now,
	}
	log = log.With(zap.String("payment_id", o.PaymentID))

	// 7. Payment session
	link, err := s.gateway.CreateCheckoutSession(ctx, o.PaymentID, snapshots, lineItems)
	if err != nil {
		log.Error("failed to create payment session", zap.Error(err))
		return nil, err
	}
	o.PaymentLink = link

	// 8. Persist order and items atomically
	if err := s.repo.Create(ctx, o); err != nil {
		log.Error("failed to persist order", zap.Error(err))
		return nil, apperror.Internal("failed to persist order", err)
	}

	log.Info("order created", zap.Int64("order_id", o.ID))
	return o, nil
}

func distinctProductIDs(items []ItemInput) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

func (s *service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, id)
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context, userID int64) ([]*Order, error) {
	orders, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to list orders", zap.Int64("user_id", userID), zap.Error(err))
		return nil, apperror.Internal("failed to list orders", err)
	}
	return orders, nil
}

// UpdateOrder edits address and description while the order is unpaid.
func (s *service) UpdateOrder(ctx context.Context, id int64, input UpdateOrderInput) (*Order, error) {
	if input.Empty() {
		return nil, apperror.BadRequest("Nothing to update")
	}

	o, err := s.repo.UpdateByID(ctx, id, func(o *Order) error {
		if o.Status != StatusAwaitingPayment {
			return apperror.BadRequest("Order with ID: %d cannot be changed in status %s", o.ID, o.Status)
		}
		input.apply(o)
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err, id)
	}
	return s.withItems(ctx, o)
}

// DeleteOrder physically removes only canceled orders. An order still
// awaiting payment keeps its row and is marked must-be-refunded, since its
// checkout session stays open and a late payment has to find it.
func (s *service) DeleteOrder(ctx context.Context, id int64) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "DeleteOrder"),
		zap.Int64("order_id", id),
	)

	n, err := s.repo.Delete(ctx, id, StatusCanceled)
	if err != nil {
		return apperror.Internal("failed to delete order", err)
	}
	if n > 0 {
		log.Info("order deleted")
		return nil
	}

	changed := false
	o, err := s.repo.UpdateByID(ctx, id, func(o *Order) error {
		changed = false
		switch o.Status {
		case StatusAwaitingPayment:
			o.Status = StatusMustBeRefunded
			changed = true
			return nil
		case StatusMustBeRefunded:
			return errNoChange
		default:
			return apperror.BadRequest("Order with ID: %d cannot be deleted in status %s", o.ID, o.Status)
		}
	})
	if err != nil {
		return mapRepoError(err, id)
	}

	log.Info("unpaid order retired", zap.String("status", string(o.Status)))
	if changed {
		s.notify(ctx, o)
	}
	return nil
}

// CancelOrder is the administrative cancel path. An unpaid order becomes
// must-be-refunded so a late success webhook refunds it; a paid order is
// refunded right away inside the same transaction.
func (s *service) CancelOrder(ctx context.Context, id int64) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CancelOrder"),
		zap.Int64("order_id", id),
	)

	changed := false
	o, err := s.repo.UpdateByID(ctx, id, func(o *Order) error {
		changed = false
		switch o.Status {
		case StatusAwaitingPayment:
			o.Status = StatusMustBeRefunded
			changed = true
			return nil
		case StatusMustBeRefunded:
			return errNoChange
		case StatusPaidFor:
			if err := s.refund(ctx, deref(o.PaymentIntentID)); err != nil {
				return err
			}
			o.Status = StatusRefunded
			changed = true
			return nil
		default:
			return apperror.BadRequest("Order with ID: %d cannot be canceled in status %s", o.ID, o.Status)
		}
	})
	if err != nil {
		log.Warn("cancel failed", zap.Error(err))
		return nil, mapRepoError(err, id)
	}

	log.Info("order canceled", zap.String("status", string(o.Status)))
	if changed {
		s.notify(ctx, o)
	}
	return s.withItems(ctx, o)
}

// ApplyPaymentSucceeded reconciles a successful payment. The refund-or-not
// decision is made on the status read under the row lock.
func (s *service) ApplyPaymentSucceeded(ctx context.Context, paymentID, intentID string) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ApplyPaymentSucceeded"),
		zap.String("payment_id", paymentID),
		zap.String("payment_intent_id", intentID),
	)

	changed := false
	o, err := s.repo.UpdateByPaymentID(ctx, paymentID, func(o *Order) error {
		switch o.Status {
		case StatusMustBeRefunded:
			if err := s.refund(ctx, intentID); err != nil {
				return err
			}
			o.Status = StatusRefunded
		case StatusRefunded, StatusCanceled:
			log.Warn("success event for closed order ignored", zap.String("status", string(o.Status)))
			return errNoChange
		default:
			o.Status = StatusPaidFor
		}
		o.PaymentIntentID = &intentID
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Error("no order for payment id")
			return nil, apperror.NotFound("Order with payment ID: %s does not exist", paymentID)
		}
		log.Error("failed to apply payment success", zap.Error(err))
		return nil, wrapInternal(err, "failed to update order status")
	}

	log.Info("payment success applied", zap.String("status", string(o.Status)))
	if changed {
		s.notify(ctx, o)
	}
	return o, nil
}

func (s *service) ApplyPaymentCanceled(ctx context.Context, paymentID, intentID string) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ApplyPaymentCanceled"),
		zap.String("payment_id", paymentID),
		zap.String("payment_intent_id", intentID),
	)

	changed := false
	o, err := s.repo.UpdateByPaymentID(ctx, paymentID, func(o *Order) error {
		changed = false
		if !o.Status.CanTransitionTo(StatusCanceled) {
			log.Warn("cancel event for closed order ignored", zap.String("status", string(o.Status)))
			return errNoChange
		}
		changed = o.Status != StatusCanceled
		o.Status = StatusCanceled
		o.PaymentIntentID = &intentID
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, apperror.NotFound("Order with payment ID: %s does not exist", paymentID)
		}
		log.Error("failed to apply payment cancel", zap.Error(err))
		return nil, wrapInternal(err, "failed to update order status")
	}

	log.Info("payment cancel applied", zap.String("status", string(o.Status)))
	if changed {
		s.notify(ctx, o)
	}
	return o, nil
}

func (s *service) refund(ctx context.Context, intentID string) error {
	if err := s.gateway.Refund(ctx, intentID); err != nil {
		metrics.Refunds.WithLabelValues("failed").Inc()
		return err
	}
	metrics.Refunds.WithLabelValues("succeeded").Inc()
	return nil
}

func (s *service) PurgeForDeletedProduct(ctx context.Context, productID int64) (int64, error) {
	return s.purge(ctx, itemColumnProduct, productID)
}

func (s *service) PurgeForDeletedSize(ctx context.Context, sizeID int64) (int64, error) {
	return s.purge(ctx, itemColumnSize, sizeID)
}

func (s *service) PurgeForDeletedBrand(ctx context.Context, brandID int64) (int64, error) {
	return s.purge(ctx, itemColumnBrand, brandID)
}

func (s *service) purge(ctx context.Context, column itemColumn, id int64) (int64, error) {
	n, err := s.repo.DeleteAwaitingByItem(ctx, column, id)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to purge orders",
			zap.String("column", string(column)),
			zap.Int64("id", id),
			zap.Error(err),
		)
		return 0, apperror.Internal("failed to purge orders", err)
	}
	logger.FromCtx(ctx).Info("orders purged",
		zap.String("column", string(column)),
		zap.Int64("id", id),
		zap.Int64("deleted", n),
	)
	return n, nil
}

func (s *service) notify(ctx context.Context, o *Order) {
	change := StatusChange{
		OrderID:         o.ID,
		PaymentID:       o.PaymentID,
		PaymentIntentID: deref(o.PaymentIntentID),
		Status:          o.Status,
		OccurredAt:      s.now(),
	}
	if err := s.notifier.OrderStatusChanged(ctx, change); err != nil {
		logger.FromCtx(ctx).Warn("failed to publish status change",
			zap.Int64("order_id", o.ID),
			zap.String("status", string(o.Status)),
			zap.Error(err),
		)
	}
}

// withItems reloads the order so the response carries its items.
func (s *service) withItems(ctx context.Context, o *Order) (*Order, error) {
	full, err := s.repo.GetByID(ctx, o.ID)
	if err != nil {
		return nil, mapRepoError(err, o.ID)
	}
	return full, nil
}

func mapRepoError(err error, id int64) error {
	if errors.Is(err, ErrOrderNotFound) {
		return apperror.NotFound("Order with ID: %d does not exist", id)
	}
	return wrapInternal(err, "order storage failure")
}

// wrapInternal keeps an already classified error, otherwise marks it internal.
func wrapInternal(err error, message string) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Internal(message, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
