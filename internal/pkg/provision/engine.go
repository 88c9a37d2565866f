package provision

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/panel"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// API is the slice of the panel client the engine depends on.
type API interface {
	ListInbounds(ctx context.Context) ([]panel.Inbound, error)
	CreateClient(ctx context.Context, inboundID int, client models.ClientConfig) error
}

// ClientFactory builds a panel API for a server record. Injected so tests
// can substitute a fake panel.
type ClientFactory func(server models.Server) API

// DefaultClientFactory returns the real HTTP panel client.
func DefaultClientFactory(server models.Server) API {
	return panel.NewClient(server)
}

// Engine provisions remote accounts for paid orders and reconciles the
// authoritative panel inventory back into local mirror rows.
//
// The panel has no transactional coupling with the local database. A crash
// between a remote create and its local mirror write must not lose a billed
// account, so after the primary per-unit creates the engine always runs a
// full inventory sweep over the server, even when every primary call
// succeeded.
type Engine struct {
	repo    Repository
	factory ClientFactory
}

// NewEngine creates a reconciliation engine.
func NewEngine(repo Repository, factory ClientFactory) *Engine {
	if factory == nil {
		factory = DefaultClientFactory
	}
	return &Engine{repo: repo, factory: factory}
}

// ProvisionOrder provisions every unit of a paid order. The order is only
// marked completed once all units exist and the inventory sweep finished; any
// panel failure leaves it incomplete and returns an error so the caller's
// retry scheduler gets another pass. Must only be called once payment_status
// is paid; callers guard re-entry with the already-completed check.
func (e *Engine) ProvisionOrder(ctx context.Context, orderID uint) error {
	order, err := e.repo.GetOrder(orderID)
	if err != nil {
		return fmt.Errorf("provision: load order %d: %w", orderID, err)
	}
	if !order.IsPaid() {
		return fmt.Errorf("provision: order %d is not paid", orderID)
	}
	if order.IsCompleted() {
		log.Infof("[Provision] order %d already completed, skipping", orderID)
		return nil
	}

	// Group sweep work per server; every server an item touches gets exactly
	// one sweep pass after its primary creates.
	swept := make(map[uint]bool)
	var failures []error

	for _, item := range order.Items {
		if item.Plan == nil || item.Plan.Server == nil {
			log.Errorf("[Provision] order %d item %d has no plan/server loaded", order.ID, item.ID)
			continue
		}
		server := *item.Plan.Server
		api := e.factory(server)

		if err := e.provisionItem(ctx, api, order, item); err != nil {
			log.Errorf("[Provision] order %d item %d: %v", order.ID, item.ID, err)
			failures = append(failures, err)
		}

		if !swept[server.ID] {
			if err := e.Sweep(ctx, api, server); err != nil {
				log.Errorf("[Provision] sweep for server %d failed: %v", server.ID, err)
				failures = append(failures, err)
			}
			swept[server.ID] = true
		}
	}

	if len(failures) > 0 {
		// The order stays uncompleted so a retry pass can create the missing
		// units; marking it completed here would put it behind the
		// already-completed guard with units still unprovisioned.
		return fmt.Errorf("provision: order %d left incomplete: %w", order.ID, errors.Join(failures...))
	}

	if err := e.repo.MarkOrderCompleted(order.ID); err != nil {
		return fmt.Errorf("provision: mark order %d completed: %w", order.ID, err)
	}
	log.Infof("[Provision] order %d completed", order.ID)
	return nil
}

// provisionItem runs the primary path: one remote create per purchased unit.
// Units already mirrored for this order are skipped, so a retry pass only
// creates the shortfall and never duplicates accounts.
func (e *Engine) provisionItem(ctx context.Context, api API, order *models.Order, item models.OrderItem) error {
	plan := item.Plan
	server := plan.Server

	mirrored, err := e.repo.CountOrderClients(order.ID, item.PlanID)
	if err != nil {
		return fmt.Errorf("count provisioned units: %w", err)
	}
	if int(mirrored) >= item.Quantity {
		return nil
	}

	inbounds, err := api.ListInbounds(ctx)
	if err != nil {
		return fmt.Errorf("list inbounds on server %d: %w", server.ID, err)
	}
	target := pickInbound(inbounds)
	if target == nil {
		return fmt.Errorf("no enabled inbound on server %d", server.ID)
	}

	buyer := ""
	if order.User != nil {
		buyer = order.User.Email
	}

	var failures []error
	for n := int(mirrored) + 1; n <= item.Quantity; n++ {
		cred := uuid.NewString()
		expiry := plan.ExpiryFrom(time.Now())
		cfg := models.ClientConfig{
			ID:         cred,
			Email:      fmt.Sprintf("%s-o%d-u%d", buyer, order.ID, n),
			TotalBytes: plan.TrafficLimitBytes,
			ExpiryTime: expiry.UnixMilli(),
			Enable:     true,
		}

		if err := api.CreateClient(ctx, target.ID, cfg); err != nil {
			log.Errorf("[Provision] order %d unit %d/%d: create client: %v", order.ID, n, item.Quantity, err)
			failures = append(failures, fmt.Errorf("unit %d/%d: %w", n, item.Quantity, err))
			continue
		}

		// Enrichment: mirror the inbound and the new client locally. Failures
		// here are logged only; the remote account exists and billing is
		// final, the sweep will converge the mirror.
		if err := e.mirrorCreatedClient(ctx, api, *server, order, item, *target, cfg, expiry); err != nil {
			log.Errorf("[Provision] order %d unit %d/%d: mirror: %v", order.ID, n, item.Quantity, err)
		}
	}
	return errors.Join(failures...)
}

func (e *Engine) mirrorCreatedClient(ctx context.Context, api API, server models.Server, order *models.Order, item models.OrderItem, target panel.Inbound, cfg models.ClientConfig, expiry time.Time) error {
	// Re-read the inbound so the mirror carries the panel's state including
	// the client we just attached.
	inbounds, err := api.ListInbounds(ctx)
	if err == nil {
		for _, inbound := range inbounds {
			if inbound.ID == target.ID || inbound.Port == target.Port {
				target = inbound
				break
			}
		}
	}

	mirror, err := e.repo.UpsertInbound(server.ID, target)
	if err != nil {
		return fmt.Errorf("upsert inbound: %w", err)
	}

	planID := item.PlanID
	orderID := order.ID
	_, err = e.repo.UpsertClient(&models.ServerClient{
		LocalKey:       uuid.NewString(),
		ServerID:       server.ID,
		InboundID:      mirror.ID,
		CredentialUUID: cfg.ID,
		Email:          cfg.Email,
		ConnectionLink: panel.ConnectionLink(target, cfg, hostOf(server.BaseURL)),
		ExpiresAt:      &expiry,
		PlanID:         &planID,
		OrderID:        &orderID,
	})
	if err != nil {
		return fmt.Errorf("upsert client: %w", err)
	}
	return nil
}

// clientAssociation is the plan/order pair the sweep derives from a
// recovered unit label.
type clientAssociation struct {
	orderID *uint
	planID  *uint
}

// Sweep reconciles the full remote inventory of one server into local mirror
// rows. It runs unconditionally after every primary pass and is idempotent:
// inbounds upsert by (server, port), clients by remote credential. Clients
// carrying a unit label get their order and plan associations back-filled, so
// accounts recovered after a crash stay traceable to their order.
func (e *Engine) Sweep(ctx context.Context, api API, server models.Server) error {
	inbounds, err := api.ListInbounds(ctx)
	if err != nil {
		return fmt.Errorf("sweep: list inbounds: %w", err)
	}

	derived := make(map[uint]clientAssociation)

	for _, inbound := range inbounds {
		mirror, err := e.repo.UpsertInbound(server.ID, inbound)
		if err != nil {
			log.Errorf("[Provision] sweep: upsert inbound port %d: %v", inbound.Port, err)
			continue
		}

		for _, cfg := range inbound.Settings.Clients {
			if cfg.ID == "" {
				continue
			}
			row := &models.ServerClient{
				LocalKey:       uuid.NewString(),
				ServerID:       server.ID,
				InboundID:      mirror.ID,
				CredentialUUID: cfg.ID,
				Email:          cfg.Email,
				ConnectionLink: panel.ConnectionLink(inbound, cfg, hostOf(server.BaseURL)),
			}
			if cfg.ExpiryTime > 0 {
				t := time.UnixMilli(cfg.ExpiryTime)
				row.ExpiresAt = &t
			}
			if oid := orderIDFromLabel(cfg.Email); oid != 0 {
				assoc, found := derived[oid]
				if !found {
					assoc = e.deriveAssociation(oid, server.ID)
					derived[oid] = assoc
				}
				row.OrderID = assoc.orderID
				row.PlanID = assoc.planID
			}
			if _, err := e.repo.UpsertClient(row); err != nil {
				log.Errorf("[Provision] sweep: upsert client %s: %v", cfg.ID, err)
			}
		}
	}
	return nil
}

// deriveAssociation resolves the order behind a unit label and the plan the
// order bought on this server. Unknown order ids yield no association; the
// account is still mirrored.
func (e *Engine) deriveAssociation(orderID, serverID uint) clientAssociation {
	order, err := e.repo.GetOrder(orderID)
	if err != nil {
		log.Warnf("[Provision] sweep: order %d from client label not found: %v", orderID, err)
		return clientAssociation{}
	}
	id := order.ID
	assoc := clientAssociation{orderID: &id}
	for _, item := range order.Items {
		if item.Plan != nil && item.Plan.ServerID == serverID {
			planID := item.PlanID
			assoc.planID = &planID
			break
		}
	}
	return assoc
}

// SweepServer is the standalone entry used by the retry job: it sweeps one
// server without a surrounding order context.
func (e *Engine) SweepServer(ctx context.Context, server models.Server) error {
	return e.Sweep(ctx, e.factory(server), server)
}

var unitLabel = regexp.MustCompile(`-o(\d+)-u\d+$`)

// orderIDFromLabel recovers the order id the primary path embeds in client
// labels ("<email>-o<order>-u<unit>"). Returns 0 for foreign labels.
func orderIDFromLabel(label string) uint {
	m := unitLabel.FindStringSubmatch(label)
	if m == nil {
		return 0
	}
	id, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}

// pickInbound selects the inbound new clients are attached to: the first
// enabled listener.
func pickInbound(inbounds []panel.Inbound) *panel.Inbound {
	for i := range inbounds {
		if inbounds[i].Enable {
			return &inbounds[i]
		}
	}
	return nil
}

func hostOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return baseURL
	}
	return u.Hostname()
}
