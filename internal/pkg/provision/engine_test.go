package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/panel"
)

// fakePanelAPI imitates the remote panel's inventory: created clients show up
// in subsequent list calls, which is what the sweep relies on.
type fakePanelAPI struct {
	mu          sync.Mutex
	inbounds    []panel.Inbound
	listErr     error
	createErr   error
	createCalls int
	listCalls   int
}

func (f *fakePanelAPI) ListInbounds(ctx context.Context) ([]panel.Inbound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]panel.Inbound, len(f.inbounds))
	copy(out, f.inbounds)
	return out, nil
}

func (f *fakePanelAPI) CreateClient(ctx context.Context, inboundID int, client models.ClientConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	for i := range f.inbounds {
		if f.inbounds[i].ID == inboundID {
			f.inbounds[i].Settings.Clients = append(f.inbounds[i].Settings.Clients, client)
			return nil
		}
	}
	return fmt.Errorf("inbound %d not found", inboundID)
}

// fakeProvisionRepo mirrors inbounds by (server, port) and clients by
// (server, credential) like the real upserts do.
type fakeProvisionRepo struct {
	mu        sync.Mutex
	orders    map[uint]*models.Order
	inbounds  map[string]*models.ServerInbound
	clients   map[string]*models.ServerClient
	completed []uint
	nextID    uint
}

func newFakeProvisionRepo(orders ...*models.Order) *fakeProvisionRepo {
	r := &fakeProvisionRepo{
		orders:   map[uint]*models.Order{},
		inbounds: map[string]*models.ServerInbound{},
		clients:  map[string]*models.ServerClient{},
	}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *fakeProvisionRepo) UpsertInbound(serverID uint, inbound panel.Inbound) (*models.ServerInbound, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%d/%d", serverID, inbound.Port)
	if row, found := r.inbounds[key]; found {
		row.RemoteID = inbound.ID
		row.Protocol = inbound.Protocol
		return row, nil
	}
	r.nextID++
	row := &models.ServerInbound{
		ID:       r.nextID,
		ServerID: serverID,
		RemoteID: inbound.ID,
		Port:     inbound.Port,
		Protocol: inbound.Protocol,
	}
	r.inbounds[key] = row
	return row, nil
}

func (r *fakeProvisionRepo) UpsertClient(client *models.ServerClient) (*models.ServerClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%d/%s", client.ServerID, client.CredentialUUID)
	if existing, found := r.clients[key]; found {
		existing.Email = client.Email
		if existing.PlanID == nil && client.PlanID != nil {
			existing.PlanID = client.PlanID
		}
		if existing.OrderID == nil && client.OrderID != nil {
			existing.OrderID = client.OrderID
		}
		return existing, nil
	}
	cp := *client
	r.clients[key] = &cp
	return &cp, nil
}

func (r *fakeProvisionRepo) CountOrderClients(orderID, planID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range r.clients {
		if c.OrderID != nil && *c.OrderID == orderID && c.PlanID != nil && *c.PlanID == planID {
			n++
		}
	}
	return n, nil
}

func (r *fakeProvisionRepo) GetOrder(orderID uint) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, found := r.orders[orderID]
	if !found {
		return nil, gorm.ErrRecordNotFound
	}
	return o, nil
}

func (r *fakeProvisionRepo) MarkOrderCompleted(orderID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, found := r.orders[orderID]
	if !found {
		return gorm.ErrRecordNotFound
	}
	o.OrderStatus = models.OrderStatusCompleted
	r.completed = append(r.completed, orderID)
	return nil
}

func (r *fakeProvisionRepo) clientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func testServer() *models.Server {
	return &models.Server{ID: 3, Name: "de-1", BaseURL: "https://panel.example:2053", Username: "admin", Password: "x", IsActive: true}
}

func paidOrder(id uint, quantity int) *models.Order {
	srv := testServer()
	return &models.Order{
		ID:            id,
		UserID:        10,
		User:          &models.User{ID: 10, Email: "buyer@example.com"},
		PaymentStatus: models.PaymentStatusPaid,
		OrderStatus:   models.OrderStatusProcessing,
		Items: []models.OrderItem{
			{
				ID:       1,
				OrderID:  id,
				PlanID:   5,
				Quantity: quantity,
				Plan: &models.Plan{
					ID:                5,
					ServerID:          srv.ID,
					Server:            srv,
					Name:              "Monthly",
					DurationDays:      30,
					TrafficLimitBytes: 100 << 30,
				},
			},
		},
	}
}

func enabledInbound() panel.Inbound {
	return panel.Inbound{ID: 7, Port: 443, Protocol: "vless", Enable: true}
}

func newTestEngine(api *fakePanelAPI, repo *fakeProvisionRepo) *Engine {
	return NewEngine(repo, func(server models.Server) API { return api })
}

func TestProvisionOrderCreatesOneClientPerUnit(t *testing.T) {
	t.Parallel()

	api := &fakePanelAPI{inbounds: []panel.Inbound{enabledInbound()}}
	repo := newFakeProvisionRepo(paidOrder(42, 3))
	e := newTestEngine(api, repo)

	require.NoError(t, e.ProvisionOrder(context.Background(), 42))

	assert.Equal(t, 3, api.createCalls)
	assert.Equal(t, 3, repo.clientCount())
	assert.Equal(t, []uint{42}, repo.completed)

	// the primary path records plan and order on each mirror row
	for _, c := range repo.clients {
		require.NotNil(t, c.PlanID)
		assert.Equal(t, uint(5), *c.PlanID)
		require.NotNil(t, c.OrderID)
		assert.Equal(t, uint(42), *c.OrderID)
		assert.NotNil(t, c.ExpiresAt)
		assert.Contains(t, c.Email, "buyer@example.com-o42-u")
	}
}

func TestProvisionOrderRejectsUnpaid(t *testing.T) {
	t.Parallel()

	o := paidOrder(42, 1)
	o.PaymentStatus = models.PaymentStatusPending
	api := &fakePanelAPI{inbounds: []panel.Inbound{enabledInbound()}}
	repo := newFakeProvisionRepo(o)
	e := newTestEngine(api, repo)

	err := e.ProvisionOrder(context.Background(), 42)
	require.Error(t, err)
	assert.Zero(t, api.createCalls)
	assert.Empty(t, repo.completed)
}

func TestProvisionOrderSkipsCompleted(t *testing.T) {
	t.Parallel()

	o := paidOrder(42, 1)
	o.OrderStatus = models.OrderStatusCompleted
	api := &fakePanelAPI{inbounds: []panel.Inbound{enabledInbound()}}
	repo := newFakeProvisionRepo(o)
	e := newTestEngine(api, repo)

	require.NoError(t, e.ProvisionOrder(context.Background(), 42))
	assert.Zero(t, api.createCalls)
	assert.Empty(t, repo.completed)
}

func TestProvisionOrderUnknownOrder(t *testing.T) {
	t.Parallel()

	e := newTestEngine(&fakePanelAPI{}, newFakeProvisionRepo())
	err := e.ProvisionOrder(context.Background(), 404)
	require.Error(t, err)
}

// A failed create leaves the order incomplete so a retry pass can create the
// missing units; completing it here would strand them behind the
// already-completed guard.
func TestProvisionOrderCreateFailureLeavesIncomplete(t *testing.T) {
	t.Parallel()

	api := &fakePanelAPI{
		inbounds:  []panel.Inbound{enabledInbound()},
		createErr: errors.New("panel: conflict"),
	}
	repo := newFakeProvisionRepo(paidOrder(42, 2))
	e := newTestEngine(api, repo)

	err := e.ProvisionOrder(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, 2, api.createCalls)
	assert.Zero(t, repo.clientCount())
	assert.Empty(t, repo.completed)
}

// When the panel is entirely unreachable nothing was provisioned, so the
// order must stay incomplete and the error must surface; once the panel is
// back, the same call finishes the order.
func TestProvisionOrderUnreachablePanelLeavesIncomplete(t *testing.T) {
	t.Parallel()

	api := &fakePanelAPI{listErr: errors.New("connection refused")}
	repo := newFakeProvisionRepo(paidOrder(42, 2))
	e := newTestEngine(api, repo)

	err := e.ProvisionOrder(context.Background(), 42)
	require.Error(t, err)
	assert.Zero(t, api.createCalls)
	assert.Zero(t, repo.clientCount())
	assert.Empty(t, repo.completed)

	api.mu.Lock()
	api.listErr = nil
	api.inbounds = []panel.Inbound{enabledInbound()}
	api.mu.Unlock()

	require.NoError(t, e.ProvisionOrder(context.Background(), 42))
	assert.Equal(t, 2, api.createCalls)
	assert.Equal(t, 2, repo.clientCount())
	assert.Equal(t, []uint{42}, repo.completed)
}

// A retry pass only creates the units the first pass missed.
func TestProvisionOrderRetryCreatesOnlyShortfall(t *testing.T) {
	t.Parallel()

	api := &fakePanelAPI{inbounds: []panel.Inbound{enabledInbound()}}
	repo := newFakeProvisionRepo(paidOrder(42, 3))
	planID, orderID := uint(5), uint(42)
	for i := 1; i <= 2; i++ {
		cred := fmt.Sprintf("cred-%d", i)
		repo.clients["3/"+cred] = &models.ServerClient{
			ServerID:       3,
			CredentialUUID: cred,
			PlanID:         &planID,
			OrderID:        &orderID,
		}
	}
	e := newTestEngine(api, repo)

	require.NoError(t, e.ProvisionOrder(context.Background(), 42))
	assert.Equal(t, 1, api.createCalls)
	assert.Equal(t, 3, repo.clientCount())
	assert.Equal(t, []uint{42}, repo.completed)
}

// The sweep picks up remote accounts the primary path never mirrored, e.g.
// after a crash between the remote create and the local write.
func TestSweepRecoversUnmirroredClients(t *testing.T) {
	t.Parallel()

	inbound := enabledInbound()
	inbound.Settings.Clients = []models.ClientConfig{
		{ID: "lost-cred-1", Email: "buyer@example.com-o41-u1", ExpiryTime: 1900000000000},
		{ID: "lost-cred-2", Email: "buyer@example.com-o41-u2"},
		{ID: "", Email: "ignored"},
	}
	api := &fakePanelAPI{inbounds: []panel.Inbound{inbound}}
	repo := newFakeProvisionRepo()
	e := newTestEngine(api, repo)

	require.NoError(t, e.Sweep(context.Background(), api, *testServer()))

	assert.Equal(t, 2, repo.clientCount())
	c := repo.clients["3/lost-cred-1"]
	require.NotNil(t, c)
	require.NotNil(t, c.ExpiresAt)
	assert.Nil(t, repo.clients["3/"], "clients without a credential are skipped")
}

// Running the sweep twice converges to the same rows.
func TestSweepIsIdempotent(t *testing.T) {
	t.Parallel()

	inbound := enabledInbound()
	inbound.Settings.Clients = []models.ClientConfig{{ID: "cred-1", Email: "a@b.c"}}
	api := &fakePanelAPI{inbounds: []panel.Inbound{inbound}}
	repo := newFakeProvisionRepo()
	e := newTestEngine(api, repo)

	require.NoError(t, e.Sweep(context.Background(), api, *testServer()))
	require.NoError(t, e.Sweep(context.Background(), api, *testServer()))

	assert.Equal(t, 1, repo.clientCount())
	assert.Len(t, repo.inbounds, 1)
}

// After provisioning, the sweep has mirrored the full remote inventory, not
// just the units of this order.
func TestProvisionOrderSweepsFullInventory(t *testing.T) {
	t.Parallel()

	inbound := enabledInbound()
	inbound.Settings.Clients = []models.ClientConfig{
		{ID: "preexisting-cred", Email: "older@example.com"},
	}
	api := &fakePanelAPI{inbounds: []panel.Inbound{inbound}}
	repo := newFakeProvisionRepo(paidOrder(42, 1))
	e := newTestEngine(api, repo)

	require.NoError(t, e.ProvisionOrder(context.Background(), 42))

	// one new unit plus the pre-existing remote account
	assert.Equal(t, 2, repo.clientCount())
	pre := repo.clients["3/preexisting-cred"]
	require.NotNil(t, pre)
	assert.Nil(t, pre.PlanID, "sweep must not invent plan associations")
}

// The sweep derives plan and order associations from recovered unit labels,
// so crash-recovered accounts stay traceable to their order.
func TestSweepBackfillsAssociationsFromLabels(t *testing.T) {
	t.Parallel()

	inbound := enabledInbound()
	inbound.Settings.Clients = []models.ClientConfig{
		{ID: "lost-cred-1", Email: "buyer@example.com-o42-u1"},
		{ID: "foreign-cred", Email: "manual@example.com"},
	}
	api := &fakePanelAPI{inbounds: []panel.Inbound{inbound}}
	repo := newFakeProvisionRepo(paidOrder(42, 1))
	e := newTestEngine(api, repo)

	require.NoError(t, e.Sweep(context.Background(), api, *testServer()))

	recovered := repo.clients["3/lost-cred-1"]
	require.NotNil(t, recovered)
	require.NotNil(t, recovered.OrderID)
	assert.Equal(t, uint(42), *recovered.OrderID)
	require.NotNil(t, recovered.PlanID)
	assert.Equal(t, uint(5), *recovered.PlanID)

	foreign := repo.clients["3/foreign-cred"]
	require.NotNil(t, foreign)
	assert.Nil(t, foreign.OrderID)
	assert.Nil(t, foreign.PlanID)
}

func TestOrderIDFromLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint(42), orderIDFromLabel("buyer@example.com-o42-u3"))
	assert.Zero(t, orderIDFromLabel("manual@example.com"))
	assert.Zero(t, orderIDFromLabel("buyer-o-u1"))
	assert.Zero(t, orderIDFromLabel("buyer-o7-u"))
}

func TestPickInbound(t *testing.T) {
	t.Parallel()

	assert.Nil(t, pickInbound(nil))
	assert.Nil(t, pickInbound([]panel.Inbound{{ID: 1, Enable: false}}))

	got := pickInbound([]panel.Inbound{
		{ID: 1, Enable: false},
		{ID: 2, Enable: true},
		{ID: 3, Enable: true},
	})
	require.NotNil(t, got)
	assert.Equal(t, 2, got.ID)
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "panel.example", hostOf("https://panel.example:2053"))
	assert.Equal(t, "10.0.0.5", hostOf("http://10.0.0.5"))
	assert.Equal(t, "not a url", hostOf("not a url"))
}
