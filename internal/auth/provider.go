package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ricardorosenberg/tikun/internal/api"
)

// ErrNotAuthenticated is returned when an operation needs a token and none is stored
var ErrNotAuthenticated = errors.New("not signed in")

// Client is the subset of the API client the provider uses
type Client interface {
	SignUp(ctx context.Context, creds api.Credentials) (*api.AuthResponse, error)
	Login(ctx context.Context, creds api.Credentials) (*api.AuthResponse, error)
	ForgotPassword(ctx context.Context, email string) (*api.StatusResponse, error)
	ResetPassword(ctx context.Context, token, password string) (*api.StatusResponse, error)
	VerifyEmail(ctx context.Context, token string) (*api.StatusResponse, error)
}

// Provider authenticates against the API and keeps the session token
type Provider struct {
	client Client
	store  *TokenStore
	logger *slog.Logger
}

// NewProvider creates a provider persisting tokens in store
func NewProvider(client Client, store *TokenStore, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		store:  store,
		logger: logger,
	}
}

// SignUp creates an account and stores its token
func (p *Provider) SignUp(ctx context.Context, email, password string) error {
	creds, err := credentials(email, password)
	if err != nil {
		return err
	}

	resp, err := p.client.SignUp(ctx, creds)
	if err != nil {
		return fmt.Errorf("signup failed: %w", err)
	}
	return p.keep(resp, email)
}

// SignIn logs in and stores the token
func (p *Provider) SignIn(ctx context.Context, email, password string) error {
	creds, err := credentials(email, password)
	if err != nil {
		return err
	}

	resp, err := p.client.Login(ctx, creds)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	return p.keep(resp, email)
}

func (p *Provider) keep(resp *api.AuthResponse, email string) error {
	if resp.AccessToken == "" {
		return fmt.Errorf("API returned an empty access token")
	}
	if err := p.store.Save(resp.AccessToken); err != nil {
		return err
	}
	p.logger.Info("Signed in", slog.String("email", email))
	return nil
}

// SignOut forgets the stored token
func (p *Provider) SignOut() error {
	if err := p.store.Clear(); err != nil {
		return err
	}
	p.logger.Info("Signed out")
	return nil
}

// Token returns the stored token or ErrNotAuthenticated
func (p *Provider) Token() (string, error) {
	token := p.store.AccessToken()
	if token == "" {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

// AccessToken returns the stored token, empty when signed out
func (p *Provider) AccessToken() string {
	return p.store.AccessToken()
}

// RequestPasswordReset asks the API to send a reset email
func (p *Provider) RequestPasswordReset(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if _, err := p.client.ForgotPassword(ctx, email); err != nil {
		return fmt.Errorf("password reset request failed: %w", err)
	}
	return nil
}

// ResetPassword sets a new password with the emailed reset token
func (p *Provider) ResetPassword(ctx context.Context, token, password string) error {
	if token == "" || password == "" {
		return fmt.Errorf("token and password are required")
	}
	if _, err := p.client.ResetPassword(ctx, token, password); err != nil {
		return fmt.Errorf("password reset failed: %w", err)
	}
	return nil
}

// VerifyEmail confirms the account email with the emailed token
func (p *Provider) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("verification token is required")
	}
	if _, err := p.client.VerifyEmail(ctx, token); err != nil {
		return fmt.Errorf("email verification failed: %w", err)
	}
	return nil
}

func credentials(email, password string) (api.Credentials, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return api.Credentials{}, fmt.Errorf("email and password are required")
	}
	return api.Credentials{Email: email, Password: password}, nil
}
