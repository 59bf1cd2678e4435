// Package api serves the local HTTP control surface.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"songshare/internal/app"
	"songshare/internal/catalog"
	apperrors "songshare/internal/errors"
	"songshare/internal/logger"
	"songshare/internal/metrics"
)

// Controller is the subset of *app.App the handlers drive.
type Controller interface {
	Status() app.Status
	LocalCatalog() []catalog.Entry
	RemoteCatalog() []catalog.Entry
	Matches() app.Matches
	Rescan(ctx context.Context) ([]catalog.Entry, error)
	Connect(ctx context.Context, addr string) (bool, error)
	RequestRemoteCatalog() error
	RequestDownload(ids []uint64) error
	RequestMissing() (int, error)
	Disconnect()
}

type connectRequest struct {
	Addr string `json:"addr" binding:"required"`
}

type downloadRequest struct {
	IDs []uint64 `json:"ids" binding:"required,min=1"`
}

// NewRouter registers every route on a fresh engine.
func NewRouter(ctrl Controller, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = logger.Discard()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	g := r.Group("/api")
	g.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.Status())
	})
	g.GET("/catalog/local", func(c *gin.Context) {
		c.JSON(http.StatusOK, entriesOrEmpty(ctrl.LocalCatalog()))
	})
	g.POST("/catalog/local/rescan", func(c *gin.Context) {
		entries, err := ctrl.Rescan(c.Request.Context())
		if err != nil {
			appErrorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, entriesOrEmpty(entries))
	})
	g.GET("/catalog/remote", func(c *gin.Context) {
		c.JSON(http.StatusOK, entriesOrEmpty(ctrl.RemoteCatalog()))
	})
	g.POST("/catalog/remote/refresh", func(c *gin.Context) {
		if err := ctrl.RequestRemoteCatalog(); err != nil {
			appErrorResponse(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "catalog requested"})
	})
	g.GET("/catalog/matches", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.Matches())
	})
	g.POST("/connect", handleConnect(ctrl))
	g.POST("/disconnect", func(c *gin.Context) {
		ctrl.Disconnect()
		c.JSON(http.StatusOK, gin.H{"message": "disconnected"})
	})
	g.POST("/download", func(c *gin.Context) {
		var req downloadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}
		if err := ctrl.RequestDownload(req.IDs); err != nil {
			appErrorResponse(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"requested": len(req.IDs)})
	})
	g.POST("/download/missing", func(c *gin.Context) {
		n, err := ctrl.RequestMissing()
		if err != nil {
			appErrorResponse(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"requested": n})
	})
	return r
}

func handleConnect(ctrl Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req connectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}
		ok, err := ctrl.Connect(c.Request.Context(), req.Addr)
		if err != nil {
			appErrorResponse(c, err)
			return
		}
		if !ok {
			errorResponse(c, http.StatusForbidden, "peer declined the connection")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "connected", "addr": req.Addr})
	}
}

func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error": message,
	})
}

// appErrorResponse maps an application error onto a status code.
func appErrorResponse(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case apperrors.ErrNotConnected:
			code = http.StatusConflict
		case apperrors.ErrUnresolvedEntry, apperrors.ErrInvalidPath:
			code = http.StatusBadRequest
		case apperrors.ErrConnection, apperrors.ErrUnexpectedMessage:
			code = http.StatusBadGateway
		}
	}
	errorResponse(c, code, err.Error())
}

func entriesOrEmpty(entries []catalog.Entry) []catalog.Entry {
	if entries == nil {
		return []catalog.Entry{}
	}
	return entries
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("api request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// Serve runs the API on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, ctrl Controller, log *slog.Logger) error {
	if log == nil {
		log = logger.Discard()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(ctrl, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("api listening", "addr", addr)

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
