package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"culinarylens/internal/controller"
	"culinarylens/internal/gateway"
	"culinarylens/internal/media"
	"culinarylens/internal/recipe"
	"culinarylens/internal/retry"
)

// Controller is the view-state machine driven by the HTTP surface.
type Controller interface {
	State() controller.Snapshot
	Enter() error
	SelectImage(ctx context.Context, image []byte, mimeType string) error
	Generate(ctx context.Context, req controller.GenerateRequest) error
	Reset() error
	StartCooking(id string) error
	OpenSandbox() error
	ToggleSandbox(ctx context.Context, name string) error
	Back() error
	OpenSettings() error
	SaveCredential(ctx context.Context, key string) error
	Dietary(ctx context.Context) recipe.DietaryConfig
	UpdateDietary(ctx context.Context, cfg recipe.DietaryConfig) error
	History(ctx context.Context) []recipe.Recipe
	Ledger(ctx context.Context) recipe.Ledger

	Next(ctx context.Context) error
	Prev() error
	ExitExecution() error
	Speak(ctx context.Context) error
	RenderBlueprint(ctx context.Context) (string, error)
	StartTimer() error
	PauseTimer() error
	ResetTimer() error
	OpenCamera() error
	CloseCamera() error
	Verify(ctx context.Context, image []byte, mimeType string) (*recipe.StepVerdict, error)
	OpenChat(ctx context.Context) (*gateway.ChatSession, error)
	SendChat(ctx context.Context, text string) (*gateway.Stream, error)
}

// DefaultRequestTimeout bounds the model calls made on behalf of one request.
const DefaultRequestTimeout = 45 * time.Second

// Handler handles HTTP requests.
type Handler struct {
	Controller     Controller
	Logger         *zap.Logger
	MaxWidth       uint
	RequestTimeout time.Duration
}

// NewHandler creates a new Handler.
func NewHandler(ctrl Controller, logger *zap.Logger, maxWidth uint, requestTimeout time.Duration) *Handler {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Handler{Controller: ctrl, Logger: logger, MaxWidth: maxWidth, RequestTimeout: requestTimeout}
}

// RegisterRoutes mounts every endpoint on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/state", h.State)
	r.POST("/enter", h.action(h.Controller.Enter))
	r.POST("/upload", h.Upload)
	r.POST("/generate", h.Generate)
	r.POST("/reset", h.action(h.Controller.Reset))
	r.POST("/cook/:id", h.Cook)
	r.POST("/sandbox", h.action(h.Controller.OpenSandbox))
	r.POST("/sandbox/toggle", h.ToggleSandbox)
	r.POST("/back", h.action(h.Controller.Back))
	r.POST("/settings", h.action(h.Controller.OpenSettings))
	r.PUT("/settings/credential", h.SaveCredential)
	r.GET("/settings/diet", h.GetDiet)
	r.PUT("/settings/diet", h.PutDiet)
	r.GET("/history", h.History)
	r.GET("/ledger", h.Ledger)

	exec := r.Group("/execution")
	exec.POST("/next", h.Next)
	exec.POST("/prev", h.action(h.Controller.Prev))
	exec.POST("/exit", h.action(h.Controller.ExitExecution))
	exec.POST("/speak", h.Speak)
	exec.POST("/blueprint", h.Blueprint)
	exec.POST("/timer/start", h.action(h.Controller.StartTimer))
	exec.POST("/timer/pause", h.action(h.Controller.PauseTimer))
	exec.POST("/timer/reset", h.action(h.Controller.ResetTimer))
	exec.POST("/camera/open", h.action(h.Controller.OpenCamera))
	exec.POST("/camera/close", h.action(h.Controller.CloseCamera))
	exec.POST("/verify", h.Verify)

	r.POST("/chat/open", h.OpenChat)
	r.POST("/chat", h.Chat)
}

// State returns the current snapshot.
func (h *Handler) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.Controller.State())
}

// action adapts a synchronous controller call into a handler that answers
// with the resulting snapshot.
func (h *Handler) action(fn func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(); err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, h.Controller.State())
	}
}

// Upload handles the fridge photo and runs the vision analysis.
func (h *Handler) Upload(c *gin.Context) {
	upload, ok := h.readImage(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.RequestTimeout)
	defer cancel()

	h.Logger.Info("scanning inventory", zap.String("image_hash", upload.Hash), zap.Int("width", upload.Width))
	if err := h.Controller.SelectImage(ctx, upload.Data, upload.MIMEType); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Controller.State())
}

// Generate synthesizes protocols from the preferences form.
func (h *Handler) Generate(c *gin.Context) {
	var req controller.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("invalid request: %s", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.RequestTimeout)
	defer cancel()

	if err := h.Controller.Generate(ctx, req); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Controller.State())
}

// Cook opens the stepper on a generated recipe.
func (h *Handler) Cook(c *gin.Context) {
	if err := h.Controller.StartCooking(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Controller.State())
}

type toggleRequest struct {
	Name string `json:"name" binding:"required"`
}

// ToggleSandbox adds or removes one ingredient from the sandbox.
func (h *Handler) ToggleSandbox(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("invalid request: %s", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.RequestTimeout)
	defer cancel()

	if err := h.Controller.ToggleSandbox(ctx, req.Name); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Controller.State())
}

type credentialRequest struct {
	Key string `json:"key" binding:"required"`
}

// SaveCredential probes and stores an API key.
func (h *Handler) SaveCredential(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("invalid request: %s", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.RequestTimeout)
	defer cancel()

	if err := h.Controller.SaveCredential(ctx, req.Key); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Controller.State())
}

// GetDiet returns the persisted dietary config.
func (h *Handler) GetDiet(c *gin.Context) {
	c.JSON(http.StatusOK, h.Controller.Dietary(c.Request.Context()))
}

// PutDiet replaces the dietary config.
func (h *Handler) PutDiet(c *gin.Context) {
	var cfg recipe.DietaryConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("invalid request: %s", err.Error()))
		return
	}
	if err := h.Controller.UpdateDietary(c.Request.Context(), cfg); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// History returns the journal.
func (h *Handler) History(c *gin.Context) {
	c.JSON(http.StatusOK, h.Controller.History(c.Request.Context()))
}

// Ledger returns the inventory and journal summary.
func (h *Handler) Ledger(c *gin.Context) {
	c.JSON(http.StatusOK, h.Controller.Ledger(c.Request.Context()))
}

// Next advances the stepper.
func (h *Handler) Next(c *gin.Context) {
	if err := h.Controller.Next(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Controller.State())
}

// Speak reads the current step aloud.
func (h *Handler) Speak(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.RequestTimeout)
	defer cancel()

	if err := h.Controller.Speak(ctx); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Blueprint renders the counter layout for the active recipe.
func (h *Handler) Blueprint(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.RequestTimeout)
	defer cancel()

	url, err := h.Controller.RenderBlueprint(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imageUrl": url})
}

// Verify checks a camera frame against the current step.
func (h *Handler) Verify(c *gin.Context) {
	upload, ok := h.readImage(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.RequestTimeout)
	defer cancel()

	verdict, err := h.Controller.Verify(ctx, upload.Data, upload.MIMEType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

// OpenChat starts or resumes the sous-chef conversation.
func (h *Handler) OpenChat(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.RequestTimeout)
	defer cancel()

	chat, err := h.Controller.OpenChat(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcript": chat.Transcript(), "streaming": chat.Streaming()})
}

type chatRequest struct {
	Text string `json:"text"`
}

// Chat streams the sous-chef reply as server-sent events: one "chunk" event
// per piece of text, then "done" or "error".
func (h *Handler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("invalid request: %s", err.Error()))
		return
	}

	stream, err := h.Controller.SendChat(c.Request.Context(), req.Text)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer stream.Close()

	c.Stream(func(w io.Writer) bool {
		chunk, err := stream.Next()
		switch {
		case errors.Is(err, io.EOF):
			c.SSEvent("done", gin.H{"text": stream.Text()})
			return false
		case err != nil:
			c.SSEvent("error", err.Error())
			return false
		}
		c.SSEvent("chunk", chunk)
		return true
	})
}

// readImage pulls the multipart "file" field and prepares it for the model.
// It writes the error response itself and reports whether to continue.
func (h *Handler) readImage(c *gin.Context) (*media.Upload, bool) {
	file, err := c.FormFile("file")
	if err != nil {
		h.Logger.Debug("missing form file", zap.Error(err))
		c.String(http.StatusBadRequest, fmt.Sprintf("get form err: %s", err.Error()))
		return nil, false
	}

	if !media.AllowedExtension(file.Filename) {
		c.String(http.StatusBadRequest, "Invalid file type. Only JPEG, JPG, and PNG images are allowed.")
		return nil, false
	}

	var src multipart.File
	src, err = file.Open()
	if err != nil {
		c.String(http.StatusInternalServerError, fmt.Sprintf("open file err: %s", err.Error()))
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.String(http.StatusInternalServerError, fmt.Sprintf("read image err: %s", err.Error()))
		return nil, false
	}

	upload, err := media.PrepareUpload(data, h.MaxWidth)
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid file type. Only JPEG, JPG, and PNG images are allowed.")
		return nil, false
	}
	return upload, true
}

// respondError maps controller and gateway errors onto status codes. The
// body is the message the user sees.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.String(status, err.Error())
}

func statusFor(err error) int {
	var classified *retry.Error
	switch {
	case errors.As(err, &classified):
		return classified.StatusCode()
	case errors.Is(err, controller.ErrInvalidCredential), errors.Is(err, gateway.ErrNoCredential):
		return http.StatusUnauthorized
	case errors.Is(err, controller.ErrRecipeNotFound):
		return http.StatusNotFound
	case errors.Is(err, controller.ErrBusy), errors.Is(err, gateway.ErrStreamInProgress):
		return http.StatusTooManyRequests
	case errors.Is(err, controller.ErrInvalidTransition), errors.Is(err, controller.ErrCameraClosed):
		return http.StatusConflict
	case errors.Is(err, controller.ErrNoIngredientsSelected),
		errors.Is(err, controller.ErrUnknownIngredient),
		errors.Is(err, controller.ErrSandboxFull),
		errors.Is(err, gateway.ErrEmptyMessage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, media.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
