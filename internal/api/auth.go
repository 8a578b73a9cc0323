package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Credentials are the email/password pair for signup and login
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse carries the issued access token
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// StatusResponse is the generic {"status": ...} reply of the auth endpoints
type StatusResponse struct {
	Status string `json:"status"`
}

// SignUp registers a new account and returns its first token
func (c *Client) SignUp(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	return c.authenticate(ctx, "signup", "/api/auth/signup", creds)
}

// Login exchanges credentials for an access token
func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	return c.authenticate(ctx, "login", "/api/auth/login", creds)
}

func (c *Client) authenticate(ctx context.Context, operation, path string, creds Credentials) (*AuthResponse, error) {
	req, err := jsonRequest(operation, http.MethodPost, path, creds)
	if err != nil {
		return nil, err
	}

	var resp AuthResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ForgotPassword asks the API to email a reset link
func (c *Client) ForgotPassword(ctx context.Context, email string) (*StatusResponse, error) {
	return c.postForm(ctx, "forgot_password", "/api/auth/forgot", url.Values{"email": {email}})
}

// ResetPassword sets a new password using a reset token
func (c *Client) ResetPassword(ctx context.Context, token, password string) (*StatusResponse, error) {
	return c.postForm(ctx, "reset_password", "/api/auth/reset", url.Values{
		"token":    {token},
		"password": {password},
	})
}

// VerifyEmail confirms an email address with a verification token
func (c *Client) VerifyEmail(ctx context.Context, token string) (*StatusResponse, error) {
	return c.postForm(ctx, "verify_email", "/api/auth/verify", url.Values{"token": {token}})
}

func (c *Client) postForm(ctx context.Context, operation, path string, form url.Values) (*StatusResponse, error) {
	req := request{
		operation:   operation,
		method:      http.MethodPost,
		path:        path,
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}

	var resp StatusResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	resp.Status = strings.TrimSpace(resp.Status)
	return &resp, nil
}
