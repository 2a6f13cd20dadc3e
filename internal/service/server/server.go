package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"resident_chat/internal/model"
	"resident_chat/internal/service/blob"
	"resident_chat/internal/service/engine"
	"resident_chat/internal/service/reconcile"
	"resident_chat/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type (
	ContactLister interface {
		ListContacts(ctx context.Context, self string) ([]*model.User, error)
	}

	PairReconciler interface {
		ReconcilePair(ctx context.Context, conv model.ConversationID) (reconcile.Result, error)
	}

	Pinger interface {
		Ping(ctx context.Context) error
	}

	// Deps are the services behind the gateway. Blobs is only set when
	// attachments are served by this process (GridFS); Images may be nil.
	Deps struct {
		Conversations engine.Appender
		Feed          engine.Subscriber
		Uploads       engine.Uploader
		Images        engine.ImageLoader
		Users         ContactLister
		Reconciler    PairReconciler
		Blobs         blob.Reader
		Health        map[string]Pinger
	}

	HttpServer struct {
		addr     string
		deps     Deps
		upgrader websocket.Upgrader
	}

	contact struct {
		Name            string `json:"name"`
		FullName        string `json:"full_name"`
		Initials        string `json:"initials"`
		ProfileImageURL string `json:"profile_image_url,omitempty"`
		LastMessage     string `json:"last_message"`
	}
)

func NewHttpServer(addr string, deps Deps) *HttpServer {
	return &HttpServer{
		addr: addr,
		deps: deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *HttpServer) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.HandleConversationWS()).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/contacts", s.GetContacts()).Methods(http.MethodGet)
	r.HandleFunc("/reconcile", s.ReconcilePair()).Methods(http.MethodPost)
	r.HandleFunc("/blobs/{key:.+}", s.GetBlob()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.Health()).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *HttpServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HttpServer) GetContacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		self := mux.Vars(r)["id"]

		users, err := s.deps.Users.ListContacts(r.Context(), self)
		if err != nil {
			log.Error("list contacts failed", zap.String("user", self), zap.Error(err))
			http.Error(w, "list contacts failed", http.StatusInternalServerError)
			return
		}

		res := make([]contact, 0, len(users))
		for _, u := range users {
			res = append(res, contact{
				Name:            u.Name,
				FullName:        u.FullName,
				Initials:        u.Initials(),
				ProfileImageURL: u.ProfileImageURL,
				LastMessage:     u.Preview(),
			})
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *HttpServer) ReconcilePair() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		conv, err := model.NewConversationID(q.Get("a"), q.Get("b"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := s.deps.Reconciler.ReconcilePair(r.Context(), conv)
		if err != nil {
			log.Error("reconcile failed", zap.String("conversation", conv.PairKey()), zap.Error(err))
			http.Error(w, "reconcile failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *HttpServer) GetBlob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Blobs == nil {
			http.NotFound(w, r)
			return
		}

		key := mux.Vars(r)["key"]
		obj, err := s.deps.Blobs.Open(r.Context(), key)
		if errors.Is(err, model.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			log.Error("open blob failed", zap.String("key", key), zap.Error(err))
			http.Error(w, "open blob failed", http.StatusInternalServerError)
			return
		}

		if obj.ContentType != "" {
			w.Header().Set("Content-Type", obj.ContentType)
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.WriteHeader(http.StatusOK)
		w.Write(obj.Data)
	}
}

func (s *HttpServer) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		res := make(map[string]string, len(s.deps.Health))
		for name, p := range s.deps.Health {
			if err := p.Ping(ctx); err != nil {
				log.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
				res[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			res[name] = "ok"
		}
		writeJSON(w, status, res)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(w, "marshal response failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
