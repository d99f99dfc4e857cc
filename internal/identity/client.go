package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/httpclient"
	"github.com/shopforge/portal-agent/pkg/model"
	"github.com/shopforge/portal-agent/pkg/utils"
)

// ErrInvalidCredentials is returned by Login when the service rejects the credentials.
var ErrInvalidCredentials = errors.New("invalid credentials")

// LoginResult is what a successful login yields.
type LoginResult struct {
	Tokens    model.TokenPair
	UserName  string
	UserEmail string
}

// Client talks to the identity/token service. It must be built on an
// executor whose http.Client is not the authenticated pipeline, so that a
// rejected refresh can never trigger another refresh.
type Client struct {
	exec        *httpclient.Executor
	loginPath   string
	refreshPath string
	logger      *zap.Logger
}

func NewClient(logger *zap.Logger, exec *httpclient.Executor, loginPath, refreshPath string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{exec: exec, loginPath: loginPath, refreshPath: refreshPath, logger: logger}
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (LoginResult, error) {
	body, err := c.exec.Call(ctx, http.MethodPost, c.loginPath, map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
	})
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusBadRequest) {
			c.logger.Info("identity.login_rejected", zap.Int("status", se.Status))
			return LoginResult{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return LoginResult{}, fmt.Errorf("login: %w", err)
	}

	pair := tokens(body)
	if pair.Access == "" {
		return LoginResult{}, errors.New("login: response has no access token")
	}
	res := LoginResult{
		Tokens:    pair,
		UserName:  gjson.GetBytes(body, "user.name").String(),
		UserEmail: gjson.GetBytes(body, "user.email").String(),
	}
	if res.UserEmail == "" {
		res.UserEmail = creds.Email
	}
	c.logger.Info("identity.login_success", zap.String("token", utils.MaskToken(pair.Access)))
	return res, nil
}

// Refresh exchanges a refresh token for a new access token. The returned
// Refresh is set only when the service rotated it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	body, err := c.exec.Call(ctx, http.MethodPost, c.refreshPath, map[string]string{"refresh": refreshToken})
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("refresh: %w", err)
	}
	pair := tokens(body)
	if pair.Access == "" {
		return model.TokenPair{}, errors.New("refresh: response has no access token")
	}
	return pair, nil
}

func tokens(body []byte) model.TokenPair {
	res := gjson.GetManyBytes(body, "access", "access_token", "refresh", "refresh_token")
	return model.TokenPair{
		Access:  first(res[0], res[1]),
		Refresh: first(res[2], res[3]),
	}
}

func first(rs ...gjson.Result) string {
	for _, r := range rs {
		if s := r.String(); s != "" {
			return s
		}
	}
	return ""
}
