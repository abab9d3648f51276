package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/apphub_installer/internal/catalog"
	"github.com/italolelis/apphub_installer/internal/download"
	"github.com/italolelis/apphub_installer/internal/inspector"
	"github.com/italolelis/apphub_installer/internal/installer"
	"github.com/italolelis/apphub_installer/internal/installstate"
	"github.com/italolelis/apphub_installer/internal/logctx"
)

// CatalogSource yields the current catalog.
type CatalogSource interface {
	Current() *catalog.Catalog
	Fetch(ctx context.Context, forceRefresh bool) (*catalog.Catalog, error)
}

// Installer starts, retries and cancels install attempts.
type Installer interface {
	Install(ctx context.Context, app catalog.AppRecord) error
	Retry(ctx context.Context, app catalog.AppRecord) error
	Cancel(appID string) bool
	LastError() *installer.DownloadErrorInfo
	ClearError()
}

// Launcher opens installed apps.
type Launcher interface {
	Launch(ctx context.Context, bundleID string) error
	Reveal(ctx context.Context, bundleID string) error
}

// SessionLister exposes the running transfers.
type SessionLister interface {
	Sessions() []download.Session
}

// AppView is an app record together with its install state.
type AppView struct {
	catalog.AppRecord

	PublisherName string                    `json:"publisherName,omitempty"`
	FormattedSize string                    `json:"formattedSize"`
	State         installstate.InstallState `json:"state"`
	Action        string                    `json:"action"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// AppsHandler serves the catalog and install commands.
type AppsHandler struct {
	catalog   CatalogSource
	registry  *installstate.Registry
	installer Installer
	launcher  Launcher
	sessions  SessionLister
}

func NewAppsHandler(c CatalogSource, registry *installstate.Registry, inst Installer, launcher Launcher, sessions SessionLister) *AppsHandler {
	return &AppsHandler{
		catalog:   c,
		registry:  registry,
		installer: inst,
		launcher:  launcher,
		sessions:  sessions,
	}
}

func (h *AppsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/apps", h.HandleListApps)
	r.Get("/apps/installed", h.HandleInstalledApps)
	r.Get("/apps/updates", h.HandleAppsWithUpdates)
	r.Get("/apps/search", h.HandleSearch)

	r.Route("/apps/{id}", func(r chi.Router) {
		r.Get("/", h.HandleGetApp)
		r.Post("/install", h.HandleInstall)
		r.Post("/retry", h.HandleRetry)
		r.Delete("/download", h.HandleCancel)
		r.Post("/launch", h.HandleLaunch)
		r.Post("/reveal", h.HandleReveal)
	})

	r.Get("/states", h.HandleStates)
	r.Get("/downloads", h.HandleDownloads)
	r.Get("/errors/last", h.HandleLastError)
	r.Delete("/errors/last", h.HandleClearError)
	r.Post("/refresh", h.HandleRefresh)

	return r
}

// HandleListApps lists the catalog, optionally filtered by featured, category or publisher.
func (h *AppsHandler) HandleListApps(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCatalog(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()

	var apps []catalog.AppRecord

	switch {
	case q.Get("featured") == "true":
		apps = c.Featured()
	case q.Get("category") != "":
		apps = c.ByCategory(q.Get("category"))
	case q.Get("publisher") != "":
		apps = c.ByPublisher(q.Get("publisher"))
	default:
		apps = c.Apps
	}

	writeJSON(r.Context(), w, http.StatusOK, h.views(c, apps))
}

func (h *AppsHandler) HandleInstalledApps(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCatalog(w, r)
	if !ok {
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, h.views(c, h.registry.InstalledApps(c.Apps)))
}

func (h *AppsHandler) HandleAppsWithUpdates(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCatalog(w, r)
	if !ok {
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, h.views(c, h.registry.AppsWithUpdates(c.Apps)))
}

func (h *AppsHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCatalog(w, r)
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "missing query parameter q")

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, h.views(c, c.Search(query)))
}

func (h *AppsHandler) HandleGetApp(w http.ResponseWriter, r *http.Request) {
	c, app, ok := h.app(w, r)
	if !ok {
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, h.view(c, app))
}

func (h *AppsHandler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	h.startAttempt(w, r, h.installer.Install)
}

func (h *AppsHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	h.startAttempt(w, r, h.installer.Retry)
}

func (h *AppsHandler) startAttempt(w http.ResponseWriter, r *http.Request, start func(context.Context, catalog.AppRecord) error) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	c, app, ok := h.app(w, r)
	if !ok {
		return
	}

	if err := start(ctx, app); err != nil {
		if errors.Is(err, installer.ErrInProgress) {
			writeError(ctx, w, http.StatusConflict, "install already in progress")

			return
		}

		logger.ErrorContext(ctx, "failed to start install", "app_id", app.ID, "err", err)
		writeError(ctx, w, http.StatusInternalServerError, "failed to start install")

		return
	}

	writeJSON(ctx, w, http.StatusAccepted, h.view(c, app))
}

func (h *AppsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !h.installer.Cancel(id) {
		writeError(r.Context(), w, http.StatusConflict, "no cancellable download for "+id)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AppsHandler) HandleLaunch(w http.ResponseWriter, r *http.Request) {
	h.open(w, r, h.launcher.Launch)
}

func (h *AppsHandler) HandleReveal(w http.ResponseWriter, r *http.Request) {
	h.open(w, r, h.launcher.Reveal)
}

func (h *AppsHandler) open(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	_, app, ok := h.app(w, r)
	if !ok {
		return
	}

	if err := fn(ctx, app.BundleID); err != nil {
		switch {
		case errors.Is(err, inspector.ErrNotInstalled):
			writeError(ctx, w, http.StatusConflict, app.Name+" is not installed")
		case errors.Is(err, inspector.ErrInvalidBundleID):
			writeError(ctx, w, http.StatusUnprocessableEntity, "invalid bundle id")
		default:
			logger.ErrorContext(ctx, "failed to open app", "app_id", app.ID, "err", err)
			writeError(ctx, w, http.StatusInternalServerError, "failed to open app")
		}

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleStates returns every known install state keyed by app id. Apps the
// registry has never seen are omitted; they are not installed.
func (h *AppsHandler) HandleStates(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, h.registry.Snapshot())
}

func (h *AppsHandler) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, h.sessions.Sessions())
}

func (h *AppsHandler) HandleLastError(w http.ResponseWriter, r *http.Request) {
	last := h.installer.LastError()
	if last == nil {
		w.WriteHeader(http.StatusNoContent)

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, last)
}

func (h *AppsHandler) HandleClearError(w http.ResponseWriter, _ *http.Request) {
	h.installer.ClearError()
	w.WriteHeader(http.StatusNoContent)
}

// HandleRefresh refetches the catalog and reconciles every install state.
func (h *AppsHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	c, err := h.catalog.Fetch(ctx, true)
	if err != nil {
		logger.ErrorContext(ctx, "failed to refresh catalog", "err", err)
		writeError(ctx, w, http.StatusBadGateway, "failed to fetch catalog")

		return
	}

	if err := h.registry.RefreshAll(ctx, c.Apps); err != nil {
		logger.ErrorContext(ctx, "failed to refresh install states", "err", err)
		writeError(ctx, w, http.StatusInternalServerError, "failed to refresh install states")

		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]int{
		"apps":      len(c.Apps),
		"installed": len(h.registry.InstalledApps(c.Apps)),
		"updates":   len(h.registry.AppsWithUpdates(c.Apps)),
	})
}

func (h *AppsHandler) currentCatalog(w http.ResponseWriter, r *http.Request) (*catalog.Catalog, bool) {
	c := h.catalog.Current()
	if c == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "catalog not loaded yet")

		return nil, false
	}

	return c, true
}

func (h *AppsHandler) app(w http.ResponseWriter, r *http.Request) (*catalog.Catalog, catalog.AppRecord, bool) {
	c, ok := h.currentCatalog(w, r)
	if !ok {
		return nil, catalog.AppRecord{}, false
	}

	id := chi.URLParam(r, "id")

	app, ok := c.App(id)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "unknown app "+id)

		return nil, catalog.AppRecord{}, false
	}

	return c, app, true
}

func (h *AppsHandler) views(c *catalog.Catalog, apps []catalog.AppRecord) []AppView {
	out := make([]AppView, 0, len(apps))
	for _, app := range apps {
		out = append(out, h.view(c, app))
	}

	return out
}

func (h *AppsHandler) view(c *catalog.Catalog, app catalog.AppRecord) AppView {
	state := h.registry.StateFor(app.ID)

	v := AppView{
		AppRecord:     app,
		FormattedSize: app.FormattedSize(),
		State:         state,
		Action:        state.Action(),
	}

	if p, ok := c.PublisherFor(app); ok {
		v.PublisherName = p.Name
	}

	return v
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "err", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	writeJSON(ctx, w, status, errorResponse{Error: msg})
}
