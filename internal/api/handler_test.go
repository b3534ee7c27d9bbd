package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"culinarylens/internal/controller"
	"culinarylens/internal/gateway"
	"culinarylens/internal/recipe"
	"culinarylens/internal/retry"
)

// mockController records calls and returns canned results.
type mockController struct {
	view  controller.ViewState
	err   error
	calls []string

	receivedImage    []byte
	receivedMIME     string
	receivedGenerate controller.GenerateRequest
	receivedID       string
	receivedName     string
	receivedKey      string
	diet             recipe.DietaryConfig
	verdict          *recipe.StepVerdict
}

func (m *mockController) record(name string) error {
	m.calls = append(m.calls, name)
	return m.err
}

func (m *mockController) State() controller.Snapshot {
	return controller.Snapshot{View: m.view, Inventory: []recipe.Ingredient{}, Recipes: []*recipe.Recipe{}}
}

func (m *mockController) Enter() error { return m.record("enter") }

func (m *mockController) SelectImage(ctx context.Context, image []byte, mimeType string) error {
	m.receivedImage = image
	m.receivedMIME = mimeType
	return m.record("select_image")
}

func (m *mockController) Generate(ctx context.Context, req controller.GenerateRequest) error {
	m.receivedGenerate = req
	return m.record("generate")
}

func (m *mockController) Reset() error { return m.record("reset") }

func (m *mockController) StartCooking(id string) error {
	m.receivedID = id
	return m.record("cook")
}

func (m *mockController) OpenSandbox() error { return m.record("sandbox") }

func (m *mockController) ToggleSandbox(ctx context.Context, name string) error {
	m.receivedName = name
	return m.record("toggle")
}

func (m *mockController) Back() error         { return m.record("back") }
func (m *mockController) OpenSettings() error { return m.record("settings") }

func (m *mockController) SaveCredential(ctx context.Context, key string) error {
	m.receivedKey = key
	return m.record("credential")
}

func (m *mockController) Dietary(ctx context.Context) recipe.DietaryConfig { return m.diet }

func (m *mockController) UpdateDietary(ctx context.Context, cfg recipe.DietaryConfig) error {
	m.diet = cfg
	return m.record("diet")
}

func (m *mockController) History(ctx context.Context) []recipe.Recipe {
	return []recipe.Recipe{{ID: "r1", Title: "Soup"}}
}

func (m *mockController) Ledger(ctx context.Context) recipe.Ledger {
	return recipe.Ledger{}
}

func (m *mockController) Next(ctx context.Context) error { return m.record("next") }
func (m *mockController) Prev() error                    { return m.record("prev") }
func (m *mockController) ExitExecution() error           { return m.record("exit") }
func (m *mockController) Speak(ctx context.Context) error {
	return m.record("speak")
}

func (m *mockController) RenderBlueprint(ctx context.Context) (string, error) {
	if err := m.record("blueprint"); err != nil {
		return "", err
	}
	return "data:image/png;base64,AAAA", nil
}

func (m *mockController) StartTimer() error  { return m.record("timer_start") }
func (m *mockController) PauseTimer() error  { return m.record("timer_pause") }
func (m *mockController) ResetTimer() error  { return m.record("timer_reset") }
func (m *mockController) OpenCamera() error  { return m.record("camera_open") }
func (m *mockController) CloseCamera() error { return m.record("camera_close") }

func (m *mockController) Verify(ctx context.Context, image []byte, mimeType string) (*recipe.StepVerdict, error) {
	m.receivedImage = image
	if err := m.record("verify"); err != nil {
		return nil, err
	}
	return m.verdict, nil
}

func (m *mockController) OpenChat(ctx context.Context) (*gateway.ChatSession, error) {
	m.record("chat_open")
	return nil, controller.ErrInvalidTransition
}

func (m *mockController) SendChat(ctx context.Context, text string) (*gateway.Stream, error) {
	m.record("chat")
	return nil, gateway.ErrStreamInProgress
}

func newRouter(ctrl *mockController) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(ctrl, zap.NewNop(), 640, 0).RegisterRoutes(r)
	return r
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path, filename string, data []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestState(t *testing.T) {
	ctrl := &mockController{view: controller.ViewUpload}
	rr := serve(newRouter(ctrl), httptest.NewRequest(http.MethodGet, "/state", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, "UPLOAD", snap["view"])
}

func TestUpload(t *testing.T) {
	ctrl := &mockController{view: controller.ViewPreferences}
	r := newRouter(ctrl)

	rr := serve(r, multipartRequest(t, "/upload", "fridge.png", pngBytes(t, 1280, 20)))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"select_image"}, ctrl.calls)
	assert.Equal(t, "image/jpeg", ctrl.receivedMIME)

	img, _, err := image.Decode(bytes.NewReader(ctrl.receivedImage))
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx(), "wide photos are downscaled")
}

func TestUpload_InvalidExtension(t *testing.T) {
	ctrl := &mockController{}
	rr := serve(newRouter(ctrl), multipartRequest(t, "/upload", "fridge.gif", []byte("GIF89a")))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid file type. Only JPEG, JPG, and PNG images are allowed.", rr.Body.String())
	assert.Empty(t, ctrl.calls)
}

func TestUpload_NotAnImage(t *testing.T) {
	ctrl := &mockController{}
	rr := serve(newRouter(ctrl), multipartRequest(t, "/upload", "fridge.jpg", []byte("not really a jpeg")))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, ctrl.calls)
}

func TestUpload_MissingFile(t *testing.T) {
	ctrl := &mockController{}
	rr := serve(newRouter(ctrl), httptest.NewRequest(http.MethodPost, "/upload", nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "get form err:"))
}

func TestUpload_InvalidCredential(t *testing.T) {
	ctrl := &mockController{err: &retry.Error{Kind: retry.KindInvalidCredential, Context: "Inventory Scan"}}
	rr := serve(newRouter(ctrl), multipartRequest(t, "/upload", "fridge.png", pngBytes(t, 10, 10)))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid API Key.", rr.Body.String())
}

func TestGenerate(t *testing.T) {
	ctrl := &mockController{view: controller.ViewDashboard}
	body := `{"cuisine":"Italian","mode":"manual","selected":["Tomato"],"diet":{"vegan":true,"allergies":"Nuts"}}`

	rr := serve(newRouter(ctrl), jsonRequest(http.MethodPost, "/generate", body))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Italian", ctrl.receivedGenerate.Cuisine)
	assert.Equal(t, controller.ModeManual, ctrl.receivedGenerate.Mode)
	assert.Equal(t, []string{"Tomato"}, ctrl.receivedGenerate.Selected)
	if assert.NotNil(t, ctrl.receivedGenerate.Diet) {
		assert.True(t, ctrl.receivedGenerate.Diet.Vegan)
		assert.Equal(t, "Nuts", ctrl.receivedGenerate.Diet.Allergies)
	}
}

func TestGenerate_BadJSON(t *testing.T) {
	ctrl := &mockController{}
	rr := serve(newRouter(ctrl), jsonRequest(http.MethodPost, "/generate", "{"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, ctrl.calls)
}

func TestActionRoutes(t *testing.T) {
	tests := []struct {
		path string
		call string
	}{
		{"/enter", "enter"},
		{"/reset", "reset"},
		{"/sandbox", "sandbox"},
		{"/back", "back"},
		{"/settings", "settings"},
		{"/execution/next", "next"},
		{"/execution/prev", "prev"},
		{"/execution/exit", "exit"},
		{"/execution/timer/start", "timer_start"},
		{"/execution/timer/pause", "timer_pause"},
		{"/execution/timer/reset", "timer_reset"},
		{"/execution/camera/open", "camera_open"},
		{"/execution/camera/close", "camera_close"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			ctrl := &mockController{}
			rr := serve(newRouter(ctrl), httptest.NewRequest(http.MethodPost, tt.path, nil))
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, []string{tt.call}, ctrl.calls)
		})
	}
}

func TestCook(t *testing.T) {
	ctrl := &mockController{}
	rr := serve(newRouter(ctrl), httptest.NewRequest(http.MethodPost, "/cook/abc", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "abc", ctrl.receivedID)
}

func TestToggleSandbox(t *testing.T) {
	ctrl := &mockController{}
	rr := serve(newRouter(ctrl), jsonRequest(http.MethodPost, "/sandbox/toggle", `{"name":"Basil"}`))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Basil", ctrl.receivedName)

	rr = serve(newRouter(ctrl), jsonRequest(http.MethodPost, "/sandbox/toggle", `{}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSaveCredential(t *testing.T) {
	ctrl := &mockController{}
	rr := serve(newRouter(ctrl), jsonRequest(http.MethodPut, "/settings/credential", `{"key":"k-123"}`))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "k-123", ctrl.receivedKey)

	ctrl.err = controller.ErrInvalidCredential
	rr = serve(newRouter(ctrl), jsonRequest(http.MethodPut, "/settings/credential", `{"key":"bad"}`))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDiet(t *testing.T) {
	ctrl := &mockController{}
	r := newRouter(ctrl)

	rr := serve(r, jsonRequest(http.MethodPut, "/settings/diet", `{"keto":true,"allergies":"Shellfish"}`))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, ctrl.diet.Keto)
	assert.Equal(t, "Shellfish", ctrl.diet.Allergies)

	rr = serve(r, httptest.NewRequest(http.MethodGet, "/settings/diet", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	var got recipe.DietaryConfig
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, ctrl.diet, got)
}

func TestHistory(t *testing.T) {
	rr := serve(newRouter(&mockController{}), httptest.NewRequest(http.MethodGet, "/history", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var got []recipe.Recipe
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Soup", got[0].Title)
}

func TestLedger(t *testing.T) {
	rr := serve(newRouter(&mockController{}), httptest.NewRequest(http.MethodGet, "/ledger", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSpeak(t *testing.T) {
	ctrl := &mockController{}
	rr := serve(newRouter(ctrl), httptest.NewRequest(http.MethodPost, "/execution/speak", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	ctrl.err = controller.ErrBusy
	rr = serve(newRouter(ctrl), httptest.NewRequest(http.MethodPost, "/execution/speak", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestBlueprint(t *testing.T) {
	rr := serve(newRouter(&mockController{}), httptest.NewRequest(http.MethodPost, "/execution/blueprint", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"imageUrl":"data:image/png;base64,AAAA"}`, rr.Body.String())
}

func TestVerify(t *testing.T) {
	ctrl := &mockController{verdict: &recipe.StepVerdict{Status: "PASS", Feedback: "Nicely diced."}}
	rr := serve(newRouter(ctrl), multipartRequest(t, "/execution/verify", "frame.png", pngBytes(t, 8, 8)))

	assert.Equal(t, http.StatusOK, rr.Code)
	var got recipe.StepVerdict
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.True(t, got.Passed())
	assert.NotEmpty(t, ctrl.receivedImage)

	ctrl.err = controller.ErrCameraClosed
	rr = serve(newRouter(ctrl), multipartRequest(t, "/execution/verify", "frame.png", pngBytes(t, 8, 8)))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestChatErrors(t *testing.T) {
	ctrl := &mockController{}
	r := newRouter(ctrl)

	rr := serve(r, httptest.NewRequest(http.MethodPost, "/chat/open", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = serve(r, jsonRequest(http.MethodPost, "/chat", `{"text":"How thin?"}`))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&retry.Error{Kind: retry.KindOverloaded}, http.StatusServiceUnavailable},
		{&retry.Error{Kind: retry.KindFailure}, http.StatusBadGateway},
		{controller.ErrRecipeNotFound, http.StatusNotFound},
		{controller.ErrInvalidTransition, http.StatusConflict},
		{controller.ErrNoIngredientsSelected, http.StatusUnprocessableEntity},
		{controller.ErrSandboxFull, http.StatusUnprocessableEntity},
		{gateway.ErrEmptyMessage, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
