package api

import (
	"net/http"

	"usersvc/internal/apperr"
	"usersvc/internal/audit"
	"usersvc/internal/domain"
	"usersvc/internal/storage"
	"usersvc/internal/validation"
)

const userPathPrefix = "/user/"

// UserServer extends Server with the user resource routes.
type UserServer struct {
	*Server
	users      storage.UserStore
	translator *apperr.Translator
}

// NewUserServer wires the user routes to users. Storage failures are
// rewritten by translator before they reach the client.
func NewUserServer(s *Server, users storage.UserStore, translator *apperr.Translator) *UserServer {
	if translator == nil {
		translator = apperr.NewTranslator()
	}
	return &UserServer{Server: s, users: users, translator: translator}
}

// RegisterUserRoutes registers /user and /user/{username}.
func (us *UserServer) RegisterUserRoutes() {
	us.mux.HandleFunc("/user", us.handleUsers)
	us.mux.HandleFunc(userPathPrefix, us.handleUserByName)
}

func (us *UserServer) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		us.listUsers(w, r)
	case http.MethodPost:
		us.createUser(w, r)
	default:
		us.methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (us *UserServer) handleUserByName(w http.ResponseWriter, r *http.Request) {
	username, ok := validation.UsernameFromPath(r.URL.EscapedPath(), userPathPrefix)
	if !ok {
		us.writeAppErr(r.Context(), w, apperr.NotFound())
		return
	}
	switch r.Method {
	case http.MethodGet:
		us.getUser(w, r, username)
	case http.MethodPut:
		us.updateUser(w, r, username)
	default:
		us.methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// GET /user/{username}
func (us *UserServer) getUser(w http.ResponseWriter, r *http.Request, username string) {
	ctx := r.Context()
	u, found, err := us.users.GetUser(ctx, username)
	if err != nil {
		us.writeAppErr(ctx, w, us.translator.Translate(err))
		return
	}
	if !found {
		us.writeAppErr(ctx, w, apperr.NotFound())
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GET /user?offset=&limit=
func (us *UserServer) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, err := validation.ParsePage(r.URL.Query())
	if err != nil {
		us.writeAppErr(ctx, w, err)
		return
	}
	users, err := us.users.ListUsers(ctx, page)
	if err != nil {
		us.writeAppErr(ctx, w, us.translator.Translate(err))
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// POST /user
func (us *UserServer) createUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in validation.CreateUser
	if err := validation.DecodeJSON(r.Body, &in); err != nil {
		us.writeAppErr(ctx, w, err)
		return
	}
	if missing := in.Missing(); missing != nil {
		us.writeAppErr(ctx, w, apperr.Validation(missing))
		return
	}
	u := in.User()
	if err := us.users.CreateUser(ctx, u); err != nil {
		us.writeAppErr(ctx, w, us.translator.Translate(err))
		return
	}
	us.logger.InfoContext(ctx, "user created", "username", u.Username)
	us.logAudit(ctx, r, audit.ActionCreate, u.Username, []string{"username", "email", "bio"}, http.StatusCreated)
	w.WriteHeader(http.StatusCreated)
}

// PUT /user/{username}
func (us *UserServer) updateUser(w http.ResponseWriter, r *http.Request, username string) {
	ctx := r.Context()
	var upd domain.UserUpdate
	if err := validation.DecodeJSON(r.Body, &upd); err != nil {
		us.writeAppErr(ctx, w, err)
		return
	}
	matched, err := us.users.UpdateUser(ctx, username, upd)
	if err != nil {
		us.writeAppErr(ctx, w, us.translator.Translate(err))
		return
	}
	if !matched {
		// Accepted without effect; callers cannot tell a missing user apart here.
		us.logger.DebugContext(ctx, "update matched no user", "username", username)
	} else {
		us.logAudit(ctx, r, audit.ActionUpdate, username, upd.Fields(), http.StatusAccepted)
	}
	w.WriteHeader(http.StatusAccepted)
}
