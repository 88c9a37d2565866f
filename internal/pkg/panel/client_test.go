package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DennisKoslow/ProxyDesk/app/models"
)

// fakePanel imitates the remote panel: cookie-based login plus the inbound
// endpoints, with settings transmitted as JSON-encoded strings.
type fakePanel struct {
	t          *testing.T
	loginCalls int32
	addClient  []map[string]interface{}
	rejectOnce int32 // answer 401 to the next API call when set
}

func (p *fakePanel) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&p.loginCalls, 1)
		require.NoError(p.t, r.ParseForm())
		if r.PostForm.Get("username") != "admin" || r.PostForm.Get("password") != "secret" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "msg": "bad credentials"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1"})
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "msg": ""})
	})

	mux.HandleFunc("/panel/api/inbounds/list", func(w http.ResponseWriter, r *http.Request) {
		if atomic.CompareAndSwapInt32(&p.rejectOnce, 1, 0) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if _, err := r.Cookie("session"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		obj := []map[string]interface{}{
			{
				"id":             7,
				"port":           443,
				"protocol":       "vless",
				"tag":            "inbound-443",
				"listen":         "",
				"enable":         true,
				"remark":         "frontdoor",
				"settings":       `{"clients":[{"id":"11111111-2222-3333-4444-555555555555","email":"a@b.c","enable":true}],"decryption":"none"}`,
				"streamSettings": `{"network":"tcp","security":"reality"}`,
				"sniffing":       `{"enabled":true,"destOverride":["http","tls"]}`,
			},
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "msg": "", "obj": obj})
	})

	mux.HandleFunc("/panel/api/inbounds/addClient", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		require.NoError(p.t, json.NewDecoder(r.Body).Decode(&payload))
		p.addClient = append(p.addClient, payload)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "msg": ""})
	})

	return mux
}

func newTestClient(t *testing.T, p *fakePanel) *Client {
	t.Helper()
	srv := httptest.NewServer(p.handler())
	t.Cleanup(srv.Close)

	c := NewClient(models.Server{BaseURL: srv.URL, Username: "admin", Password: "secret"})
	c.HTTPClient.Transport = srv.Client().Transport
	return c
}

func TestClientListInboundsDecodesSettingsStrings(t *testing.T) {
	t.Parallel()

	p := &fakePanel{t: t}
	c := newTestClient(t, p)

	inbounds, err := c.ListInbounds(context.Background())
	require.NoError(t, err)
	require.Len(t, inbounds, 1)

	in := inbounds[0]
	assert.Equal(t, 7, in.ID)
	assert.Equal(t, 443, in.Port)
	assert.Equal(t, "vless", in.Protocol)
	require.Len(t, in.Settings.Clients, 1)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", in.Settings.Clients[0].ID)
	assert.Equal(t, "a@b.c", in.Settings.Clients[0].Email)
	assert.Equal(t, "none", in.Settings.Decryption)
	assert.Equal(t, "tcp", in.StreamSettings.Network)
	assert.Equal(t, "reality", in.StreamSettings.Security)
	assert.True(t, in.Sniffing.Enabled)
	assert.Equal(t, []string{"http", "tls"}, in.Sniffing.DestOverride)
}

func TestClientLoginHappensOnce(t *testing.T) {
	t.Parallel()

	p := &fakePanel{t: t}
	c := newTestClient(t, p)

	_, err := c.ListInbounds(context.Background())
	require.NoError(t, err)
	_, err = c.ListInbounds(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&p.loginCalls))
}

func TestClientLoginRejected(t *testing.T) {
	t.Parallel()

	p := &fakePanel{t: t}
	srv := httptest.NewServer(p.handler())
	t.Cleanup(srv.Close)

	c := NewClient(models.Server{BaseURL: srv.URL, Username: "admin", Password: "wrong"})
	err := c.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestClientSessionExpiryForcesRelogin(t *testing.T) {
	t.Parallel()

	p := &fakePanel{t: t}
	c := newTestClient(t, p)

	_, err := c.ListInbounds(context.Background())
	require.NoError(t, err)

	atomic.StoreInt32(&p.rejectOnce, 1)
	_, err = c.ListInbounds(context.Background())
	require.Error(t, err)

	// next call logs in again and succeeds
	_, err = c.ListInbounds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&p.loginCalls))
}

func TestClientCreateClientEncodesSettingsString(t *testing.T) {
	t.Parallel()

	p := &fakePanel{t: t}
	c := newTestClient(t, p)

	err := c.CreateClient(context.Background(), 7, models.ClientConfig{
		ID:     "9999",
		Email:  "buyer-42-1",
		Enable: true,
	})
	require.NoError(t, err)
	require.Len(t, p.addClient, 1)

	payload := p.addClient[0]
	assert.Equal(t, float64(7), payload["id"])

	// settings travels as a JSON string, not a nested object
	raw, ok := payload["settings"].(string)
	require.True(t, ok, "settings must be a JSON-encoded string")
	var settings models.InboundSettings
	require.NoError(t, json.Unmarshal([]byte(raw), &settings))
	require.Len(t, settings.Clients, 1)
	assert.Equal(t, "buyer-42-1", settings.Clients[0].Email)
}

func TestGetInbound(t *testing.T) {
	t.Parallel()

	p := &fakePanel{t: t}
	c := newTestClient(t, p)

	in, err := c.GetInbound(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 443, in.Port)

	_, err = c.GetInbound(context.Background(), 99)
	require.Error(t, err)
}

func TestConnectionLink(t *testing.T) {
	t.Parallel()

	inbound := Inbound{
		Protocol: "vless",
		Port:     443,
		StreamSettings: models.StreamSettings{
			Network:  "tcp",
			Security: "reality",
		},
	}
	client := models.ClientConfig{ID: "abc-123", Email: "buyer-42-1"}

	link := ConnectionLink(inbound, client, "proxy.example.com")
	assert.Equal(t, "vless://abc-123@proxy.example.com:443?security=reality&type=tcp#buyer-42-1", link)
}
