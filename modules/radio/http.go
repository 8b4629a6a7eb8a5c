package radio

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/zachfi/tuberadio/pkg/shoutcast"
)

type APIError struct {
	Code    int `json:"code"`
	Message any `json:"message"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%d: %v", e.Code, e.Message)
}

func NewAPIError(code int, message any) APIError {
	return APIError{
		Code:    code,
		Message: message,
	}
}

type APIFunc func(w http.ResponseWriter, r *http.Request) error

// Make adapts fn to an http.HandlerFunc. Returned errors are written as a
// JSON APIError; registry errors get their matching status code.
func Make(logger *slog.Logger, fn APIFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		apiErr := toAPIError(err)
		_ = writeJSON(w, apiErr.Code, apiErr)

		if apiErr.Code >= http.StatusInternalServerError {
			logger.Error("handler error", "err", err, "path", r.URL.Path)
		} else {
			logger.Debug("request rejected", "err", err, "path", r.URL.Path, "code", apiErr.Code)
		}
	}
}

func toAPIError(err error) APIError {
	var apiErr APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, ErrNotFound):
		return NewAPIError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateChannel):
		return NewAPIError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidChannel):
		return NewAPIError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrStopped):
		return NewAPIError(http.StatusServiceUnavailable, err.Error())
	}
	return NewAPIError(http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, code int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}

// RegisterRoutes adds the listener and control endpoints to router.
func (r *Radio) RegisterRoutes(router *mux.Router) {
	router.Handle("/stream/{channel}", Make(r.logger, r.StreamHandler)).Methods(http.MethodGet)
	router.Handle("/skip/{channel}", Make(r.logger, r.SkipHandler)).Methods(http.MethodPost)
	router.Handle("/reload/{channel}", Make(r.logger, r.ReloadHandler)).Methods(http.MethodPost)
	router.Handle("/channels", Make(r.logger, r.ListHandler)).Methods(http.MethodGet)
	router.Handle("/channels", Make(r.logger, r.CreateHandler)).Methods(http.MethodPost)
	router.Handle("/channels/{channel}", Make(r.logger, r.StatusHandler)).Methods(http.MethodGet)
	router.Handle("/channels/{channel}", Make(r.logger, r.DeleteHandler)).Methods(http.MethodDelete)
}

// StreamHandler relays a channel to one listener until the listener goes
// away or the channel is removed.
func (r *Radio) StreamHandler(w http.ResponseWriter, req *http.Request) error {
	c, err := r.Get(mux.Vars(req)["channel"])
	if err != nil {
		return err
	}

	reader := c.queue.Subscribe()
	defer reader.Close()

	c.observe(func() { metricListeners.WithLabelValues(c.name).Inc() })
	defer c.observe(func() { metricListeners.WithLabelValues(c.name).Dec() })

	logger := c.logger.With("listener", uuid.NewString(), "remote", req.RemoteAddr)

	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}

	h := w.Header()
	h.Set("Content-Type", "audio/mpeg")
	h.Set("Cache-Control", "no-cache, no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Access-Control-Allow-Origin", "*")

	var icy *shoutcast.Writer
	if req.Header.Get("Icy-MetaData") == "1" && r.cfg.IcyMetaInt > 0 {
		h.Set("icy-metaint", strconv.Itoa(r.cfg.IcyMetaInt))
		h.Set("icy-name", c.name)
		icy = shoutcast.NewWriter(w, r.cfg.IcyMetaInt)
	}

	w.WriteHeader(http.StatusOK)
	flush()

	ctx := req.Context()
	buffered, err := reader.WaitBuffered(ctx, r.cfg.InitialChunks, r.cfg.InitialTimeout)
	if err != nil {
		logger.Debug("listener left while buffering", "err", err)
		return nil
	}

	logger.Info("listener connected", "buffered", buffered, "icy", icy != nil)

	var (
		sent  uint64
		title string
		start = time.Now()
	)
	defer func() {
		logger.Info("listener disconnected", "sent", humanize.IBytes(sent), "duration", time.Since(start).Round(time.Second))
	}()

	for {
		chunk, err := reader.Next(ctx)
		if err != nil {
			logger.Debug("stream ended", "err", err)
			return nil
		}

		var n int
		if icy != nil {
			if chunk.Title != title {
				title = chunk.Title
				icy.SetMetadata(&shoutcast.Metadata{StreamTitle: title})
			}
			n, err = icy.Write(chunk.Data)
		} else {
			n, err = w.Write(chunk.Data)
		}
		sent += uint64(n)
		c.observe(func() { metricStreamedBytes.WithLabelValues(c.name).Add(float64(n)) })
		if err != nil {
			logger.Debug("write failed", "err", err)
			return nil
		}
		flush()
	}
}

func (r *Radio) SkipHandler(w http.ResponseWriter, req *http.Request) error {
	c, err := r.Get(mux.Vars(req)["channel"])
	if err != nil {
		return err
	}
	c.Skip()
	return writeJSON(w, http.StatusOK, c.Status())
}

func (r *Radio) ReloadHandler(w http.ResponseWriter, req *http.Request) error {
	c, err := r.Get(mux.Vars(req)["channel"])
	if err != nil {
		return err
	}
	c.Reload()
	return writeJSON(w, http.StatusOK, c.Status())
}

// CreateHandler registers a channel from the form fields name, sourceRef
// and mode.
func (r *Radio) CreateHandler(w http.ResponseWriter, req *http.Request) error {
	if err := req.ParseForm(); err != nil {
		return NewAPIError(http.StatusBadRequest, err.Error())
	}

	c, err := r.Register(req.Context(), req.PostForm.Get("name"), req.PostForm.Get("sourceRef"), req.PostForm.Get("mode"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, c.Status())
}

func (r *Radio) DeleteHandler(w http.ResponseWriter, req *http.Request) error {
	name := mux.Vars(req)["channel"]
	if err := r.Unregister(req.Context(), name); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "removed"})
}

func (r *Radio) ListHandler(w http.ResponseWriter, _ *http.Request) error {
	list := r.List()
	if list == nil {
		list = []Status{}
	}
	return writeJSON(w, http.StatusOK, list)
}

func (r *Radio) StatusHandler(w http.ResponseWriter, req *http.Request) error {
	c, err := r.Get(mux.Vars(req)["channel"])
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, c.Status())
}
