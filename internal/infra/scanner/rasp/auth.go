package rasp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// authenticator attaches credentials to outgoing requests.
type authenticator interface {
	authorize(ctx context.Context, req *http.Request) error
	// invalidate discards cached credentials and reports whether a retry
	// could succeed with fresh ones.
	invalidate() bool
}

type noAuth struct{}

func (noAuth) authorize(context.Context, *http.Request) error { return nil }
func (noAuth) invalidate() bool                               { return false }

// tokenAuth sends a pre-provisioned API token.
type tokenAuth struct{ token string }

func (a tokenAuth) authorize(_ context.Context, req *http.Request) error {
	req.Header.Set(tokenHeader, a.token)
	return nil
}

func (tokenAuth) invalidate() bool { return false }

// loginAuth exchanges a username and password for a session cookie. The
// session is shared by every request made through the client and renewed
// after the server rejects it.
type loginAuth struct {
	client   *Client
	username string
	password string

	mu      sync.Mutex
	cookies []*http.Cookie
}

func (a *loginAuth) authorize(ctx context.Context, req *http.Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.cookies) == 0 {
		cookies, err := a.login(ctx)
		if err != nil {
			return err
		}
		a.cookies = cookies
	}
	for _, c := range a.cookies {
		req.AddCookie(c)
	}
	return nil
}

func (a *loginAuth) invalidate() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cookies = nil
	return true
}

// loginResponse is the envelope the management server wraps every reply in.
// A non-zero Status signals an application-level error.
type loginResponse struct {
	Status      int    `json:"status"`
	Description string `json:"description"`
}

func (a *loginAuth) login(ctx context.Context) ([]*http.Cookie, error) {
	body, err := json.Marshal(map[string]string{"username": a.username, "password": a.password})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.client.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnreachable, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: login returned HTTP %d", errAuth, resp.StatusCode)
	}

	var lr loginResponse
	if err := json.Unmarshal(data, &lr); err == nil && lr.Status != 0 {
		return nil, fmt.Errorf("%w: %s", errAuth, lr.Description)
	}
	if len(resp.Cookies()) == 0 {
		return nil, fmt.Errorf("%w: login issued no session cookie", errAuth)
	}
	return resp.Cookies(), nil
}
