package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DennisKoslow/ProxyDesk/app/models"
)

// Client talks to one remote panel instance. Authentication is a session
// cookie obtained from the login endpoint and kept in the client's jar.
type Client struct {
	BaseURL  string
	Username string
	Password string

	HTTPClient *http.Client

	mu       sync.Mutex
	loggedIn bool
}

// NewClient builds a panel client for one server record.
func NewClient(server models.Server) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		BaseURL:  strings.TrimRight(server.BaseURL, "/"),
		Username: server.Username,
		Password: server.Password,
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
			Jar:     jar,
		},
	}
}

// Login authenticates against the panel and stores the session cookie.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.Username)
	form.Set("password", c.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("panel login: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("panel login failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("panel login: invalid response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("panel login rejected: %s", out.Msg)
	}

	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	ok := c.loggedIn
	c.mu.Unlock()
	if ok {
		return nil
	}
	return c.Login(ctx)
}

// ListInbounds returns every inbound on the panel, decoded.
func (c *Client) ListInbounds(ctx context.Context) ([]Inbound, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	out, err := c.call(ctx, http.MethodGet, "/panel/api/inbounds/list", nil)
	if err != nil {
		return nil, err
	}

	var wires []wireInbound
	if err := json.Unmarshal(out.Obj, &wires); err != nil {
		return nil, fmt.Errorf("panel inbound list: decode obj: %w", err)
	}

	inbounds := make([]Inbound, 0, len(wires))
	for _, w := range wires {
		inbound, err := w.decode()
		if err != nil {
			return nil, err
		}
		inbounds = append(inbounds, inbound)
	}
	return inbounds, nil
}

// GetInbound fetches one inbound by its remote id.
func (c *Client) GetInbound(ctx context.Context, remoteID int) (*Inbound, error) {
	inbounds, err := c.ListInbounds(ctx)
	if err != nil {
		return nil, err
	}
	for i := range inbounds {
		if inbounds[i].ID == remoteID {
			return &inbounds[i], nil
		}
	}
	return nil, fmt.Errorf("panel inbound %d not found", remoteID)
}

// CreateInbound creates a new listener on the panel.
func (c *Client) CreateInbound(ctx context.Context, inbound Inbound) (*Inbound, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	wire, err := inbound.encode()
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, http.MethodPost, "/panel/api/inbounds/add", wire)
	if err != nil {
		return nil, err
	}

	var created wireInbound
	if len(out.Obj) > 0 {
		if err := json.Unmarshal(out.Obj, &created); err != nil {
			return nil, fmt.Errorf("panel inbound add: decode obj: %w", err)
		}
		decoded, err := created.decode()
		if err != nil {
			return nil, err
		}
		return &decoded, nil
	}
	return &inbound, nil
}

// CreateClient attaches a new client account to an inbound. The panel expects
// the client list re-encoded as a settings JSON string.
func (c *Client) CreateClient(ctx context.Context, inboundID int, client models.ClientConfig) error {
	if err := c.ensureLogin(ctx); err != nil {
		return err
	}

	settings, err := json.Marshal(models.InboundSettings{Clients: []models.ClientConfig{client}})
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"id":       inboundID,
		"settings": string(settings),
	}

	_, err = c.call(ctx, http.MethodPost, "/panel/api/inbounds/addClient", payload)
	return err
}

// ConnectionLink synthesizes the client connection URI for an inbound, used
// when the panel response does not carry one.
func ConnectionLink(inbound Inbound, client models.ClientConfig, host string) string {
	u := url.URL{
		Scheme:   inbound.Protocol,
		User:     url.User(client.ID),
		Host:     host + ":" + strconv.Itoa(inbound.Port),
		Fragment: client.Email,
	}
	q := u.Query()
	if inbound.StreamSettings.Network != "" {
		q.Set("type", inbound.StreamSettings.Network)
	}
	if inbound.StreamSettings.Security != "" {
		q.Set("security", inbound.StreamSettings.Security)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) call(ctx context.Context, method, path string, payload interface{}) (*apiResponse, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = strings.NewReader(string(raw))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("panel request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode == http.StatusUnauthorized {
		// session expired, force a fresh login on the next call
		c.mu.Lock()
		c.loggedIn = false
		c.mu.Unlock()
		return nil, errors.New("panel session expired")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("panel request %s failed: status=%d body=%s", path, resp.StatusCode, string(body))
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("panel request %s: invalid response: %w", path, err)
	}
	if !out.Success {
		return nil, fmt.Errorf("panel request %s rejected: %s", path, out.Msg)
	}
	return &out, nil
}
