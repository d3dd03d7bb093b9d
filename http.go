package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/boj/redistore"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	log "github.com/sirupsen/logrus"

	"clinic-auth-gateway/identity"
	"clinic-auth-gateway/oidc"
)

type Webserver struct {
	e    *echo.Echo
	cfg  *Config
	oidc *oidc.OIDC

	fsStore    *sessions.FilesystemStore
	redisStore *redistore.RediStore
}

// NewWebserver creates the Echo instance, the session store and registers
// all middleware and routes.
func NewWebserver(cfg *Config, o *oidc.OIDC) (*Webserver, error) {
	ws := &Webserver{
		e:    echo.New(),
		cfg:  cfg,
		oidc: o,
	}
	err := ws.createSessionStore()
	if err != nil {
		log.WithError(err).Error("Error creating session store")
		return nil, err
	}
	log.Info("Session-Store initialized")

	store, err := ws.getStore()
	if err != nil {
		log.WithError(err).Error("Error getting session store")
		return nil, err
	}
	ws.e.Use(session.Middleware(store))

	ws.registerRoutes()

	ws.e.HideBanner = true
	ws.e.HidePort = true

	return ws, nil
}

func (w *Webserver) registerRoutes() {
	e := w.e

	// sign-in ceremony
	e.GET("/auth/:provider/login", w.oidc.LoginHandler())
	e.GET("/auth/:provider/callback", w.oidc.CallbackHandler())
	e.GET("/auth/logout", w.oidc.LogoutHandler())
	log.Debug("OIDC auth handlers registered")

	// public entry points; the gate redirects unauthenticated browsers here
	e.GET("/", pageHandler("home"))
	e.GET("/patient", pageHandler("patient-entry"))
	e.GET("/pro", pageHandler("pro-entry"))

	// protected application areas
	app := e.Group("/app", w.oidc.Gate())
	app.GET("", dashboardHandler)
	app.GET("/patient", pageHandler("patient-dashboard"))
	app.GET("/pro", pageHandler("pro-console"))
	app.GET("/pro/admin", pageHandler("admin-console"))

	// BFF proxy to the downstream business API
	proxy := newBFFProxy(w.cfg.Settings.ApiBase, w.oidc)
	api := e.Group("/api/bff")
	api.POST("/appointments", proxy.forwardTo("/commands/scheduling/appointments"))
	api.POST("/pro/invitations", proxy.forwardTo("/commands/onboarding/pro-invitations"))
	api.POST("/pro/invitations/accept", proxy.forwardTo("/commands/onboarding/pro-invitations/accept"))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func pageHandler(area string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, fmt.Sprintf("area=%s", area))
	}
}

// dashboardHandler greets whoever the gate resolved; every authenticated
// population may land here.
func dashboardHandler(c echo.Context) error {
	claims, _ := c.Get(oidc.IdentityContextKey).(identity.AccessClaims)
	name := claims.Username
	if name == "" {
		name = claims.Subject
	}
	return c.String(http.StatusOK, fmt.Sprintf("area=dashboard user=%s", name))
}

// Start the webserver with the Address and Port specified in the config.
func (w *Webserver) Start() error {
	address := w.cfg.Settings.GetWSAddress()
	log.Info(fmt.Sprintf("Listening on %s", address))
	return w.e.Start(address)
}

// StartAsync starts the webserver in the background and waits until the
// listener accepts connections. Used by the test harness.
func (w *Webserver) StartAsync() error {
	address := w.cfg.Settings.GetWSAddress()
	go func() {
		if err := w.e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("webserver stopped")
		}
	}()
	for i := 0; i < 100; i++ {
		conn, err := net.DialTimeout("tcp", address, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return errors.New("webserver did not become ready")
}

func (w *Webserver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.e.Shutdown(ctx); err != nil {
		return err
	}
	if w.redisStore != nil {
		return w.redisStore.Close()
	}
	return nil
}

// getStore return the existing store or an error, if no store exists.
func (w *Webserver) getStore() (sessions.Store, error) {
	if w.redisStore != nil {
		return w.redisStore, nil
	} else if w.fsStore != nil {
		return w.fsStore, nil
	}
	return nil, errors.New("no session store available")
}

// createSessionStore build the session store from config and set it into the object.
func (w *Webserver) createSessionStore() error {
	cfg := w.cfg.Settings.Session
	if cfg.StoreDriver == "redis" {
		store, err := redistore.NewRediStore(
			cfg.Redis.PoolSize, "tcp",
			fmt.Sprintf("%s:%d", cfg.Redis.Address, cfg.Redis.Port),
			cfg.Redis.Username, cfg.Redis.Password,
			[]byte(cfg.Key),
		)
		if err != nil || store == nil {
			log.WithError(err).Error("Error creating redis session store")
			return err
		}
		store.Options.MaxAge = 60 * 60 * 24 // 1 day
		w.redisStore = store
		return nil
	} else if cfg.StoreDriver == "filesystem" {
		err := os.MkdirAll(cfg.StoreDirectory, 0700)
		if err != nil {
			log.WithError(err).Error("Error creating filesystem session store")
			return err
		}

		key := []byte(cfg.Key)
		store := sessions.NewFilesystemStore(cfg.StoreDirectory, key)
		store.Options.MaxAge = 60 * 60 * 24 // 1 day
		w.fsStore = store
		return nil
	}
	log.WithField("driver", cfg.StoreDriver).Error("Invalid session store driver")
	return errors.New("invalid session store driver")
}
