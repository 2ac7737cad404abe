package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

var (
	errInternal       = errors.New("the server encountered a problem and could not process your request")
	errAuthentication = errors.New("authentication failed")
)

type envelope map[string]any

func (app *application) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{
		"status":      "available",
		"environment": app.config.env,
		"version":     version,
	})
}

func (app *application) loginHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email string `json:"email"`
	}
	if err := readJSON(w, r, &input); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	v := newValidator()
	v.checkRequired(input.Email, "email")
	if v.hasErrors() {
		writeError(w, v.toError(), http.StatusBadRequest)
		return
	}

	token := newSessionToken()
	if err := app.sessions.put(r.Context(), token, input.Email, app.config.session.ttl); err != nil {
		app.serverError(w, r, err)
		return
	}
	app.notifySignIn(input.Email, r.UserAgent())

	writeJSON(w, http.StatusOK, envelope{"token": token})
}

func (app *application) listTodosHandler(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	todos, err := app.todos.selectByOwner(r.Context(), identity)
	if err != nil {
		app.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListItems(todos))
}

func (app *application) createTodoHandler(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	var input struct {
		Content string `json:"content"`
	}
	if err := readJSON(w, r, &input); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	v := newValidator()
	v.checkRequired(input.Content, "content")
	if v.hasErrors() {
		writeError(w, v.toError(), http.StatusBadRequest)
		return
	}

	t := &todo{
		ID:        uuid.NewString(),
		Owner:     identity,
		Content:   input.Content,
		CreatedAt: app.now().UTC().Truncate(time.Microsecond),
	}
	if err := app.todos.insert(r.Context(), t); err != nil {
		app.serverError(w, r, err)
		return
	}
	stored, err := app.todos.selectByID(r.Context(), t.ID)
	if err != nil {
		app.serverError(w, r, err)
		return
	}
	// a concurrent delete may already have removed it
	if stored == nil {
		stored = t
	}
	writeJSON(w, http.StatusCreated, stored)
}

// setCompletedHandler sets the completed flag to the given value. A todo
// owned by someone else is left alone and the caller still gets 204, so the
// response never reveals whether the id exists.
func (app *application) setCompletedHandler(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	id := r.PathValue("id")
	var input struct {
		Completed *bool `json:"completed"`
	}
	if err := readJSON(w, r, &input); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	v := newValidator()
	v.checkCond(input.Completed != nil, "completed", "must be provided")
	if v.hasErrors() {
		writeError(w, v.toError(), http.StatusBadRequest)
		return
	}

	n, err := app.todos.updateCompleted(r.Context(), id, identity, *input.Completed)
	if err != nil {
		app.serverError(w, r, err)
		return
	}
	if n == 0 {
		app.logger.Debug("update matched no todo", "id", id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteTodoHandler has the same no-op behaviour as setCompletedHandler for
// missing or foreign ids.
func (app *application) deleteTodoHandler(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	id := r.PathValue("id")
	n, err := app.todos.deleteByID(r.Context(), id, identity)
	if err != nil {
		app.serverError(w, r, err)
		return
	}
	if n == 0 {
		app.logger.Debug("delete matched no todo", "id", id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		var syntaxError *json.SyntaxError
		var typeError *json.UnmarshalTypeError
		var maxBytesError *http.MaxBytesError
		switch {
		case errors.As(err, &syntaxError):
			return fmt.Errorf("body contains badly-formed JSON (at character %d)", syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("body contains badly-formed JSON")
		case errors.As(err, &typeError):
			if typeError.Field != "" {
				return fmt.Errorf("body contains incorrect JSON type for field %q", typeError.Field)
			}
			return fmt.Errorf("body contains incorrect JSON type (at character %d)", typeError.Offset)
		case errors.Is(err, io.EOF):
			return errors.New("body must not be empty")
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return fmt.Errorf("body contains unknown key %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
		case errors.As(err, &maxBytesError):
			return fmt.Errorf("body must not be larger than %d bytes", maxBytesError.Limit)
		default:
			return err
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("body must only contain a single JSON value")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	js, err := json.Marshal(data)
	if err != nil {
		slog.Error("encoding response", "error", err)
		writeError(w, errInternal, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(js, '\n'))
}

func composeJSONError(err error) string {
	jsonError := map[string]string{
		"error": err.Error(),
	}
	result, err := json.Marshal(jsonError)
	if err != nil {
		slog.Error("encoding error response", "error", err)
		return ""
	}
	return string(result)
}

func writeError(w http.ResponseWriter, err error, statusCode int) {
	h := w.Header()
	h.Del("Content-Length")
	h.Set("Content-Type", "application/json")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)
	fmt.Fprintln(w, composeJSONError(err))
}

// serverError logs the cause and answers with an opaque 500.
func (app *application) serverError(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	writeError(w, errInternal, http.StatusInternalServerError)
}
