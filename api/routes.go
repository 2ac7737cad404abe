package main

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed ui
var uiFiles embed.FS

func composeRoutes(app *application) http.Handler {
	api := newRouter()

	api.handle(http.MethodGet, "/api/healthcheck", app.healthCheckHandler)
	api.handle(http.MethodPost, "/api/login", app.loginHandler)

	api.handle(http.MethodGet, "/api/todos", app.requireIdentity(app.listTodosHandler))
	api.handle(http.MethodPost, "/api/todos", app.requireIdentity(app.createTodoHandler))
	api.handle(http.MethodPut, "/api/todos/:id", app.requireIdentity(app.setCompletedHandler))
	api.handle(http.MethodDelete, "/api/todos/:id", app.requireIdentity(app.deleteTodoHandler))

	ui, err := fs.Sub(uiFiles, "ui")
	if err != nil {
		panic(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	mux.Handle("/", http.FileServerFS(ui))

	var h http.Handler = mux
	if app.limiter != nil {
		h = app.rateLimit(app.limiter, h)
	}
	return app.logRequests(app.recoverPanic(app.enableCORS(h)))
}
