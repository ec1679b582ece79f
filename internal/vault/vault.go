// Package vault brokers per-request sessions against HashiCorp Vault.
//
// A caller's OIDC bearer token is exchanged through Vault's JWT auth method
// for a short-lived session (client token + entity ID); the session then
// reads or writes that identity's Moodle token in the KV v2 mount at a path
// derived from the entity ID. Sessions live for a single request: no caching,
// no refresh, no explicit revoke. Signature and claim validation of the
// bearer token is delegated entirely to Vault.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jkaninda/darasa/internal/moodle"
	"github.com/jkaninda/darasa/internal/upstream"
)

// loginRole is the fixed Vault role used for every JWT login exchange.
const loginRole = "user"

// secretKey is the field name under which the Moodle token is stored.
const secretKey = "moodle_token"

// Config locates the Vault server and the mounts this service uses.
type Config struct {
	Address       string // Vault base URL, e.g. "http://localhost:8200".
	RolePath      string // JWT auth mount path. Default: "jwt".
	Mount         string // KV v2 mount for per-user secrets. Default: "secret".
	SecretVersion string // Version path segment inside the mount. Default: "v1".
}

func (c Config) rolePath() string {
	if c.RolePath != "" {
		return c.RolePath
	}
	return "jwt"
}

func (c Config) mount() string {
	if c.Mount != "" {
		return c.Mount
	}
	return "secret"
}

func (c Config) secretVersion() string {
	if c.SecretVersion != "" {
		return c.SecretVersion
	}
	return "v1"
}

// Session is the short-lived credential pair returned by a login exchange.
// Both fields are secrets from the moment of deserialization; neither is ever
// logged or echoed in error text. A Session is owned by the single request
// that created it.
type Session struct {
	clientToken string
	entityID    string
}

// EntityID returns the stable per-identity handle. It is the only input to
// secret path derivation and must never be replaced by client-supplied data.
func (s *Session) EntityID() string { return s.entityID }

// Client talks to one Vault server. Safe for concurrent use; per-request
// state lives in Session values, not here.
type Client struct {
	http *upstream.Client
	cfg  Config
}

// New creates a Vault client from config.
func New(httpc *upstream.Client, cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	cfg.Address = strings.TrimRight(cfg.Address, "/")
	return &Client{http: httpc, cfg: cfg}, nil
}

// Address returns the configured Vault base URL (for reachability probes).
func (c *Client) Address() string { return c.cfg.Address }

// Login exchanges an identity token for a Session via the JWT auth method.
// Non-2xx responses come back as *Error carrying Vault's own status and error
// strings, so the caller can map them outward 1:1.
func (c *Client) Login(ctx context.Context, identityToken string) (*Session, error) {
	loginURL := fmt.Sprintf("%s/v1/auth/%s/login", c.cfg.Address, c.cfg.rolePath())

	payload := map[string]string{
		"role": loginRole,
		"jwt":  identityToken,
	}

	body, err := c.roundTrip(ctx, nil, http.MethodPost, loginURL, payload)
	if err != nil {
		return nil, err
	}

	var res struct {
		Auth struct {
			ClientToken string `json:"client_token"`
			EntityID    string `json:"entity_id"`
		} `json:"auth"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parsing vault login response: %w", err)
	}
	if res.Auth.ClientToken == "" {
		return nil, fmt.Errorf("vault login response has no client token")
	}

	return &Session{
		clientToken: res.Auth.ClientToken,
		entityID:    res.Auth.EntityID,
	}, nil
}

// PutToken stores the Moodle token at the session's derived secret path.
// Callers must only invoke this after the token passed live validation.
func (c *Client) PutToken(ctx context.Context, sess *Session, token moodle.Token) error {
	envelope := map[string]map[string]string{
		"data": {secretKey: token.Secret()},
	}
	_, err := c.roundTrip(ctx, sess, http.MethodPost, c.dataPath(sess), envelope)
	return err
}

// GetToken reads the Moodle token stored for the session's identity.
// A Vault 404 means no token has been registered yet; callers distinguish it
// via IsNotFound.
func (c *Client) GetToken(ctx context.Context, sess *Session) (moodle.Token, error) {
	body, err := c.roundTrip(ctx, sess, http.MethodGet, c.dataPath(sess), nil)
	if err != nil {
		return moodle.Token{}, err
	}

	var res struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return moodle.Token{}, fmt.Errorf("parsing vault secret response: %w", err)
	}

	token, err := moodle.ParseToken(res.Data.Data[secretKey])
	if err != nil {
		return moodle.Token{}, fmt.Errorf("malformed moodle token inside vault: %w", err)
	}
	return token, nil
}

// dataPath derives the KV v2 path for the session's identity. The entity ID
// is the only variable segment; it always comes from Vault's login response,
// never from the inbound request.
func (c *Client) dataPath(sess *Session) string {
	return fmt.Sprintf("%s/v1/%s/data/%s/%s",
		c.cfg.Address, c.cfg.mount(), c.cfg.secretVersion(), url.PathEscape(sess.entityID))
}

// roundTrip sends one request and returns the body on 2xx, or a normalized
// error otherwise. When sess is non-nil its token travels in the
// X-Vault-Token header; the login exchange passes nil.
func (c *Client) roundTrip(ctx context.Context, sess *Session, method, rawURL string, payload any) ([]byte, error) {
	var reqBody *strings.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding vault request: %w", err)
		}
		reqBody = strings.NewReader(string(encoded))
	} else {
		reqBody = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building vault request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess != nil {
		req.Header.Set("X-Vault-Token", sess.clientToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to vault: %w", err)
	}

	body, err := upstream.ReadBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, normalizeError(resp.StatusCode, body)
	}
	return body, nil
}
