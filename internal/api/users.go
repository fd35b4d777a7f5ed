package api

import (
	"context"
	"net/http"

	"shelfshare/internal/apperr"
	"shelfshare/internal/auth"
	"shelfshare/internal/models"
)

const (
	msgRegisterFieldsRequired = "login, password and password_confirm required"
	msgLoginFieldsRequired    = "Login and password required"
	msgUserNotFound           = "User not found"
	msgAccessGranted          = "Access granted"
)

type registerRequest struct {
	Login           string `json:"login"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string             `json:"token"`
	User  models.UserSummary `json:"user"`
}

func newSessionResponse(session auth.Session) sessionResponse {
	return sessionResponse{Token: session.Token, User: session.User}
}

func (h *Handler) register(ctx context.Context, req *Request) (Response, error) {
	var body registerRequest
	if err := decodeJSONObject(req.HTTP, maxJSONBody, &body); err != nil {
		return Response{}, err
	}
	if body.Login == "" || body.Password == "" || body.PasswordConfirm == "" {
		return Response{}, apperr.Validation(msgRegisterFieldsRequired)
	}
	session, err := h.Credentials.Register(ctx, body.Login, body.Password, body.PasswordConfirm)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: http.StatusCreated, Body: newSessionResponse(session)}, nil
}

func (h *Handler) login(ctx context.Context, req *Request) (Response, error) {
	var body loginRequest
	if err := decodeJSONObject(req.HTTP, maxJSONBody, &body); err != nil {
		return Response{}, err
	}
	if body.Login == "" || body.Password == "" {
		return Response{}, apperr.Validation(msgLoginFieldsRequired)
	}
	session, err := h.Credentials.Authenticate(ctx, body.Login, body.Password)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: http.StatusOK, Body: newSessionResponse(session)}, nil
}

func (h *Handler) listUsers(ctx context.Context, _ *Request) (Response, error) {
	users, err := h.Credentials.ListAll(ctx)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: http.StatusOK, Body: dataBody{Data: users}}, nil
}

// grantAccess lets the user named in the path read the caller's library.
func (h *Handler) grantAccess(ctx context.Context, req *Request) (Response, error) {
	identity, err := requireIdentity(req)
	if err != nil {
		return Response{}, err
	}
	targetID, err := paramID(req)
	if err != nil {
		return Response{}, err
	}
	if _, found, err := h.Store.GetUser(ctx, targetID); err != nil {
		return Response{}, storageError(err)
	} else if !found {
		return Response{}, apperr.NotFound(msgUserNotFound)
	}
	if err := h.Access.Grant(ctx, identity.SubjectID, targetID); err != nil {
		return Response{}, err
	}
	if h.Grants != nil && targetID != identity.SubjectID {
		h.Grants.ObserveGrant()
	}
	return Response{Status: http.StatusOK, Body: messageBody{Message: msgAccessGranted}}, nil
}
