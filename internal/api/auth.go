package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/nhle/petropulse/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoginInput is the body of POST /auth/login.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// SignupInput holds the signup form. Image is optional.
type SignupInput struct {
	Email    string     `validate:"required,email"`
	Name     string     `validate:"required,min=2"`
	Password string     `validate:"required,min=6"`
	Role     model.Role `validate:"required,oneof=Supervisor Technician Viewer"`

	ImageName string
	Image     io.Reader
}

// AuthResult is what the backend returns for login and signup.
type AuthResult struct {
	UserID string     `json:"id"`
	Token  string     `json:"token"`
	Role   model.Role `json:"role"`
}

// Auth wraps the authentication endpoints.
type Auth struct {
	scope *Scope
}

// NewAuth returns the auth service bound to scope.
func NewAuth(scope *Scope) *Auth {
	return &Auth{scope: scope}
}

// Login exchanges credentials for an identity, a token and a role.
func (a *Auth) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid login: %w", err)
	}

	var out AuthResult
	err := a.scope.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   in,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Signup creates an account with a multipart body and returns the new
// session fields.
func (a *Auth) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid signup: %w", err)
	}

	form := NewFormData().
		Append("email", in.Email).
		Append("name", in.Name).
		Append("password", in.Password).
		Append("role", string(in.Role))
	if in.Image != nil {
		name := in.ImageName
		if name == "" {
			name = "image"
		}
		form.AppendFile("image", name, in.Image)
	}

	var out AuthResult
	err := a.scope.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/signup",
		Body:   form,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
