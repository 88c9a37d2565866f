package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/cache"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/gateway"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/metrics/counter"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/usercontext"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/wallet"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const provisionLockTTL = 10 * time.Minute

// Provisioner runs post-payment provisioning for an order.
type Provisioner interface {
	ProvisionOrder(ctx context.Context, orderID uint) error
}

// InvoiceRenderer produces and stores the durable invoice artifact and
// returns its stable URL.
type InvoiceRenderer interface {
	RenderAndStore(orderID uint) (string, error)
}

// Notifier sends buyer-facing notifications. Optional; nil disables mail.
type Notifier interface {
	OrderPaid(email string, orderID uint, invoiceURL string) error
}

// RetryScheduler queues a later provisioning pass when the inline one fails.
// Optional; nil leaves recovery to the next confirm or webhook delivery.
type RetryScheduler interface {
	ScheduleProvisionRetry(ctx context.Context, orderID uint) error
}

// Locker guards against concurrent provisioning of the same order.
type Locker interface {
	Acquire(key string, ttl time.Duration) (bool, error)
	Release(key string) error
}

type redisLocker struct{}

func (redisLocker) Acquire(key string, ttl time.Duration) (bool, error) {
	return cache.SetNX(key, "1", ttl)
}

func (redisLocker) Release(key string) error {
	return cache.Delete(key)
}

// ServiceConfig wires the orchestrator's collaborators.
type ServiceConfig struct {
	DB          *gorm.DB
	Repo        Repository
	Registry    *gateway.Registry
	Ledger      *wallet.Ledger
	Provisioner Provisioner
	Renderer    InvoiceRenderer
	Carts       CartStore
	Locker      Locker
	Notifier    Notifier
	Retry       RetryScheduler
	PublicURL   string
}

// Service owns the order lifecycle state machine: it creates order, invoice
// and items atomically, dispatches to the gateway chosen by slug, and maps
// provider outcomes onto order and payment status.
type Service struct {
	db          *gorm.DB
	repo        Repository
	registry    *gateway.Registry
	ledger      *wallet.Ledger
	provisioner Provisioner
	renderer    InvoiceRenderer
	carts       CartStore
	locker      Locker
	notifier    Notifier
	retry       RetryScheduler
	publicURL   string
}

// NewService creates the checkout orchestrator.
func NewService(cfg ServiceConfig) *Service {
	locker := cfg.Locker
	if locker == nil {
		locker = redisLocker{}
	}
	return &Service{
		db:          cfg.DB,
		repo:        cfg.Repo,
		registry:    cfg.Registry,
		ledger:      cfg.Ledger,
		provisioner: cfg.Provisioner,
		renderer:    cfg.Renderer,
		carts:       cfg.Carts,
		locker:      locker,
		notifier:    cfg.Notifier,
		retry:       cfg.Retry,
		publicURL:   strings.TrimRight(cfg.PublicURL, "/"),
	}
}

// Checkout validates the request, creates order/invoice/items in one unit of
// work, dispatches the chosen gateway and returns either a redirect URL or a
// local invoice link. Any error before commit leaves nothing persisted and
// the cart untouched.
func (s *Service) Checkout(ctx context.Context, buyer usercontext.UserContext, req CheckoutRequest) (*Outcome, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	method, err := s.repo.GetActivePaymentMethod(req.PaymentMethod)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &ValidationError{Fields: map[string]string{"payment_method": "unknown or inactive payment method"}}
	}
	if err != nil {
		return nil, err
	}

	adapter, err := s.registry.Get(method.Slug)
	if err != nil {
		return nil, ErrMethodUnavailable
	}

	planIDs := make([]uint, 0, len(req.Lines))
	for _, line := range req.Lines {
		planIDs = append(planIDs, line.PlanID)
	}
	plans, err := s.repo.GetPlansByID(planIDs)
	if err != nil {
		return nil, err
	}
	for _, line := range req.Lines {
		if _, found := plans[line.PlanID]; !found {
			return nil, &ValidationError{Fields: map[string]string{"lines": fmt.Sprintf("plan %d is unknown or inactive", line.PlanID)}}
		}
	}

	totalCents := int64(0)
	currency := ""
	for _, line := range req.Lines {
		plan := plans[line.PlanID]
		if currency == "" {
			currency = plan.Currency
		} else if plan.Currency != currency {
			return nil, &ValidationError{Fields: map[string]string{"lines": "all plans in an order must share one currency"}}
		}
		totalCents += plan.PriceCents * int64(line.Quantity)
	}
	if currency == "" {
		currency = "USD"
	}

	var outcome *Outcome
	walletPaid := false

	err = s.db.Transaction(func(tx *gorm.DB) error {
		order := &models.Order{
			UserID:          buyer.UserID,
			TotalCents:      totalCents,
			Currency:        currency,
			OrderStatus:     models.OrderStatusNew,
			PaymentStatus:   models.PaymentStatusPending,
			PaymentMethodID: method.ID,
			Notes:           req.Notes,
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		for _, line := range req.Lines {
			plan := plans[line.PlanID]
			item := &models.OrderItem{
				OrderID:        order.ID,
				PlanID:         plan.ID,
				Quantity:       line.Quantity,
				UnitPriceCents: plan.PriceCents, // snapshot, never recomputed
				LineTotalCents: plan.PriceCents * int64(line.Quantity),
			}
			if err := tx.Create(item).Error; err != nil {
				return err
			}
		}

		invoice := &models.Invoice{
			OrderID:     order.ID,
			Number:      newInvoiceNumber(),
			AmountCents: totalCents,
			Currency:    currency,
			SuccessURL:  fmt.Sprintf("%s/payment/return?order_id=%d", s.publicURL, order.ID),
			CancelURL:   fmt.Sprintf("%s/payment/cancel?order_id=%d", s.publicURL, order.ID),
		}
		if err := tx.Create(invoice).Error; err != nil {
			return err
		}

		if method.Slug == models.PaymentMethodWallet {
			// Ledger rail: payment and capture are one atomic debit inside
			// this same unit of work.
			var w models.Wallet
			err := tx.Where("user_id = ?", buyer.UserID).First(&w).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInsufficientBalance
			}
			if err != nil {
				return err
			}

			reference := fmt.Sprintf("order-%d", order.ID)
			if _, err := s.ledger.DebitTx(tx, w.ID, totalCents, reference, ""); err != nil {
				if errors.Is(err, wallet.ErrInsufficientFunds) {
					return ErrInsufficientBalance
				}
				return err
			}

			if err := tx.Model(order).Update("payment_status", models.PaymentStatusPaid).Error; err != nil {
				return err
			}
			invoice.ProviderRef = reference
			if err := tx.Save(invoice).Error; err != nil {
				return err
			}

			order.PaymentStatus = models.PaymentStatusPaid
			walletPaid = true
			outcome = &Outcome{Order: order}
			return nil
		}

		res := adapter.CreatePayment(ctx, gateway.Request{
			OrderID:       order.ID,
			UserID:        buyer.UserID,
			InvoiceNumber: invoice.Number,
			AmountCents:   totalCents,
			Currency:      currency,
			Description:   fmt.Sprintf("Order #%d", order.ID),
			CustomerEmail: req.Email,
			SuccessURL:    invoice.SuccessURL,
			CancelURL:     invoice.CancelURL,
			PayCurrency:   req.PayCurrency,
		})
		if res.IsNotConfigured() {
			return ErrMethodUnavailable
		}
		if !res.Success {
			return fmt.Errorf("%w: %s", ErrGatewayFailed, res.Error)
		}

		invoice.ProviderRef = res.String("provider_ref")
		invoice.PaymentURL = res.String("payment_url")
		invoice.PayAddress = res.String("pay_address")
		invoice.PayCurrency = res.String("pay_currency")
		if err := tx.Save(invoice).Error; err != nil {
			return err
		}
		if err := tx.Model(order).Update("order_status", models.OrderStatusProcessing).Error; err != nil {
			return err
		}

		order.OrderStatus = models.OrderStatusProcessing
		outcome = &Outcome{Order: order, RedirectURL: invoice.PaymentURL}
		return nil
	})
	if err != nil {
		// Rolled back: no order, invoice, item or wallet entry persists and
		// the cart stays untouched.
		return nil, err
	}

	// Clear the cart exactly once, only after the unit of work committed.
	if err := s.carts.Clear(buyer.UserID); err != nil {
		log.Errorf("[Checkout] clear cart for user %d: %v", buyer.UserID, err)
	}

	if walletPaid {
		artifactURL := s.finalizePaid(ctx, outcome.Order.ID)
		outcome.InvoiceURL = artifactURL
	}
	return outcome, nil
}

// Confirm is the return/verification path: it maps provider status onto
// payment_status and triggers provisioning exactly once on paid.
func (s *Service) Confirm(ctx context.Context, orderID uint, providerRef string) (*models.Order, error) {
	var order *models.Order
	var err error
	if orderID != 0 {
		order, err = s.repo.GetOrder(orderID)
	} else {
		order, err = s.repo.GetOrderByProviderRef(providerRef)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	// Idempotency guard: a paid and completed order is never re-verified or
	// re-provisioned.
	if order.IsPaid() && order.IsCompleted() {
		return order, nil
	}

	if order.PaymentMethod == nil {
		return nil, fmt.Errorf("order %d has no payment method loaded", order.ID)
	}
	adapter, err := s.registry.Get(order.PaymentMethod.Slug)
	if err != nil {
		return nil, ErrMethodUnavailable
	}

	ref := providerRef
	if ref == "" && order.Invoice != nil {
		ref = order.Invoice.ProviderRef
	}

	res := adapter.VerifyPayment(ctx, ref)
	if !res.Success {
		if err := s.repo.SetPaymentStatus(order.ID, models.PaymentStatusFailed); err != nil {
			return nil, err
		}
		order.PaymentStatus = models.PaymentStatusFailed
		return order, fmt.Errorf("%w: %s", ErrGatewayFailed, res.Error)
	}

	paid, _ := res.Data["paid"].(bool)
	if paid {
		if err := s.applyPaid(ctx, order); err != nil {
			return nil, err
		}
		return s.repo.GetOrder(order.ID)
	}

	switch res.String("status") {
	case "failed", "expired", "unpaid_expired", "DECLINED", "VOIDED":
		if err := s.repo.SetPaymentStatus(order.ID, models.PaymentStatusFailed); err != nil {
			return nil, err
		}
		order.PaymentStatus = models.PaymentStatusFailed
	}
	return order, nil
}

// Cancel marks an abandoned pending payment as failed. Paid orders are left
// untouched; cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, orderID uint) (*models.Order, error) {
	order, err := s.repo.GetOrder(orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if order.IsPaid() || order.PaymentStatus == models.PaymentStatusFailed {
		return order, nil
	}
	if err := s.repo.SetPaymentStatus(order.ID, models.PaymentStatusFailed); err != nil {
		return nil, err
	}
	order.PaymentStatus = models.PaymentStatusFailed
	return order, nil
}

// HandleWebhook records the provider event idempotently and applies the
// mapped action. Duplicate deliveries and re-applied "paid" events are
// no-ops.
func (s *Service) HandleWebhook(ctx context.Context, slug string, payload []byte) error {
	adapter, err := s.registry.Get(slug)
	if err != nil {
		return ErrMethodUnavailable
	}

	res := adapter.ProcessWebhook(ctx, payload)
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrGatewayFailed, res.Error)
	}

	eventID := res.String("event_id")
	if eventID == "" {
		sum := sha256.Sum256(payload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        slug,
		ProviderEventID: eventID,
		EventType:       res.String("event_type"),
		PayloadJSON:     string(payload),
	})
	if err != nil {
		return err
	}
	if !created {
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			log.Infof("[Checkout] duplicate webhook %s/%s ignored", slug, eventID)
			return nil
		}
		// Redelivery of an event whose first processing failed or never
		// finished: run it again instead of dropping it.
		log.Infof("[Checkout] reprocessing webhook %s/%s", slug, eventID)
	}

	procErr := s.applyWebhookAction(ctx, res)
	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(stored.ID, errMsg); err != nil {
		log.Errorf("[Checkout] mark webhook %d processed: %v", stored.ID, err)
	}
	return procErr
}

func (s *Service) applyWebhookAction(ctx context.Context, res gateway.Result) error {
	action := res.String("action")
	if action == "" || action == gateway.ActionIgnore {
		return nil
	}

	order, err := s.findWebhookOrder(res)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrOrderNotFound
	}
	if err != nil {
		return err
	}

	switch action {
	case gateway.ActionMarkPaid:
		return s.applyPaid(ctx, order)
	case gateway.ActionMarkFailed:
		if order.IsPaid() {
			// Out-of-order delivery: a paid order is never demoted by a late
			// failure event.
			return nil
		}
		return s.repo.SetPaymentStatus(order.ID, models.PaymentStatusFailed)
	case gateway.ActionOpenDispute:
		return s.repo.SetOrderStatus(order.ID, models.OrderStatusDispute)
	}
	return nil
}

func (s *Service) findWebhookOrder(res gateway.Result) (*models.Order, error) {
	if raw := res.String("order_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil && id != 0 {
			return s.repo.GetOrder(uint(id))
		}
	}
	if ref := res.String("payment_id"); ref != "" {
		if order, err := s.repo.GetOrderByProviderRef(ref); err == nil {
			return order, nil
		}
	}
	if ref := res.String("provider_ref"); ref != "" {
		return s.repo.GetOrderByProviderRef(ref)
	}
	return nil, gorm.ErrRecordNotFound
}

// applyPaid transitions an order to paid and runs provisioning once.
// Re-applying paid to an already-paid order only retries provisioning when
// the order has not completed yet.
func (s *Service) applyPaid(ctx context.Context, order *models.Order) error {
	firstPaid := !order.IsPaid()
	if firstPaid {
		if err := s.repo.SetPaymentStatus(order.ID, models.PaymentStatusPaid); err != nil {
			return err
		}
		order.PaymentStatus = models.PaymentStatusPaid
		for _, item := range order.Items {
			if err := counter.AddPlanSold(item.PlanID, item.Quantity); err != nil {
				log.Warnf("[Checkout] count sale for plan %d: %v", item.PlanID, err)
			}
		}
	}
	if order.IsCompleted() {
		return nil
	}
	artifactURL := s.finalizePaid(ctx, order.ID)
	if firstPaid && s.notifier != nil && order.User != nil {
		if err := s.notifier.OrderPaid(order.User.Email, order.ID, artifactURL); err != nil {
			log.Warnf("[Checkout] notify buyer for order %d: %v", order.ID, err)
		}
	}
	return nil
}

// finalizePaid provisions the order and renders its invoice artifact.
// Provisioning failures never propagate: payment capture is final, the
// condition is logged and retried out-of-band. Returns the artifact URL when
// rendering succeeded.
func (s *Service) finalizePaid(ctx context.Context, orderID uint) string {
	lockKey := fmt.Sprintf("provision:order:%d", orderID)
	acquired, err := s.locker.Acquire(lockKey, provisionLockTTL)
	if err != nil {
		log.Errorf("[Checkout] acquire provision lock for order %d: %v", orderID, err)
		return ""
	}
	if !acquired {
		log.Infof("[Checkout] provisioning already running for order %d", orderID)
		return ""
	}
	defer func() {
		if err := s.locker.Release(lockKey); err != nil {
			log.Errorf("[Checkout] release provision lock for order %d: %v", orderID, err)
		}
	}()

	if err := s.provisioner.ProvisionOrder(ctx, orderID); err != nil {
		log.Errorf("[Checkout] provisioning order %d: %v", orderID, err)
		if s.retry != nil {
			if qerr := s.retry.ScheduleProvisionRetry(ctx, orderID); qerr != nil {
				log.Errorf("[Checkout] schedule provision retry for order %d: %v", orderID, qerr)
			}
		}
	}

	artifactURL, err := s.renderer.RenderAndStore(orderID)
	if err != nil {
		log.Errorf("[Checkout] render invoice for order %d: %v", orderID, err)
		return ""
	}
	return artifactURL
}

func newInvoiceNumber() string {
	return "INV-" + strings.ToUpper(uuid.NewString()[:8])
}
