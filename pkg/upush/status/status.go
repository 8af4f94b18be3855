// Package status serves a read-only HTTP view of a directory's registrations.
//
// It never evicts: stale entries are listed (and flagged) until a LOOKUP on the UDP side removes them.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rflandau/upush/pkg/upush/directory"
	"github.com/rs/zerolog"
)

const (
	_API_NAME    string = "UPush Directory Status"
	_API_VERSION string = "1.0.0"

	CONTENT_TYPE string = "application/json"

	EP_ENTRIES string = "/entries"
)

// shutdownGrace bounds how long Serve waits for in-flight requests once its context is cancelled.
const shutdownGrace = 5 * time.Second

// Registry is the part of a directory the API reads from.
// *directory.Server satisfies it.
type Registry interface {
	Entries() []directory.Entry
	Entry(name string) (directory.Entry, bool)
}

// Entry is the JSON shape of a single registration.
type Entry struct {
	Name        string    `json:"name" required:"true" example:"alice" doc:"nickname the peer registered under"`
	Address     string    `json:"address" required:"true" example:"10.0.0.2:5000" doc:"address the latest registration was received from"`
	LastRefresh time.Time `json:"last_refresh" required:"true" doc:"when the peer last registered"`
	Stale       bool      `json:"stale" required:"true" example:"false" doc:"the entry will be evicted by the next lookup"`
}

// ListResp is the response for GET /entries.
type ListResp struct {
	Body struct {
		Entries []Entry `json:"entries" required:"true" doc:"every registration, in the order names were first registered"`
	}
}

// GetReq is the request for GET /entries/{name}.
type GetReq struct {
	Name string `path:"name" minLength:"1" maxLength:"19" example:"alice" doc:"nickname to fetch"`
}

// GetResp is the response for GET /entries/{name}.
type GetResp struct {
	Body Entry
}

// API serves the status endpoints for a Registry.
type API struct {
	log *zerolog.Logger
	reg Registry
	mux *http.ServeMux
	api huma.API
}

// Option function to set various options on the API.
type Option func(*API)

// WithLogger replaces the API's default logger with the given logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(a *API) {
		a.log = l
	}
}

// New builds the API over reg. Routes are registered immediately; nothing listens until Serve.
func New(reg Registry, opts ...Option) *API {
	a := &API{reg: reg, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}).With().
			Str("role", "status").
			Timestamp().
			Caller().
			Logger().Level(zerolog.WarnLevel)
		a.log = &l
	}
	a.api = humago.New(a.mux, huma.DefaultConfig(_API_NAME, _API_VERSION))
	a.buildEndpoints()
	return a
}

func (a *API) buildEndpoints() {
	huma.Register(a.api, huma.Operation{
		OperationID: "list-entries",
		Method:      http.MethodGet,
		Path:        EP_ENTRIES,
		Summary:     "List registrations",
	}, a.handleList)

	huma.Register(a.api, huma.Operation{
		OperationID: "get-entry",
		Method:      http.MethodGet,
		Path:        EP_ENTRIES + "/{name}",
		Summary:     "Fetch a single registration",
	}, a.handleGet)
}

func (a *API) handleList(_ context.Context, _ *struct{}) (*ListResp, error) {
	resp := &ListResp{}
	entries := a.reg.Entries()
	resp.Body.Entries = make([]Entry, len(entries))
	for i, e := range entries {
		resp.Body.Entries[i] = toEntry(e)
	}
	a.log.Debug().Int("count", len(entries)).Msg("listed entries")
	return resp, nil
}

func (a *API) handleGet(_ context.Context, req *GetReq) (*GetResp, error) {
	e, found := a.reg.Entry(req.Name)
	if !found {
		return nil, huma.Error404NotFound("no registration for " + req.Name)
	}
	return &GetResp{Body: toEntry(e)}, nil
}

func toEntry(e directory.Entry) Entry {
	return Entry{Name: e.Name, Address: e.Addr.String(), LastRefresh: e.LastRefresh, Stale: e.Stale}
}

// Handler returns the API's HTTP handler.
func (a *API) Handler() http.Handler {
	return a.mux
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
// Returns nil after a clean shutdown.
func (a *API) Serve(ctx context.Context, addr netip.AddrPort) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr.String())
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: a.mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.log.Info().Str("address", ln.Addr().String()).Msg("status api listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err = srv.Shutdown(sctx)
	if serr := <-errCh; serr != nil && !errors.Is(serr, http.ErrServerClosed) && err == nil {
		err = serr
	}
	a.log.Info().AnErr("shutdown error", err).Msg("status api stopped")
	return err
}
