package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/akave-ai/dgramlog/internal/infrastructure/inputs"
	"github.com/akave-ai/dgramlog/internal/model"
	"github.com/akave-ai/dgramlog/internal/repository"
	"github.com/akave-ai/dgramlog/internal/response"
)

var errPathInUse = errors.New("ingest path already mounted")

// InputHandler handles /inputs and /inputs/types. It keeps the running
// MessageInput of every persisted input in step with its desired state.
type InputHandler struct {
	Registry      *inputs.Registry
	Buffer        inputs.InputBuffer
	InputRepo     repository.Inputs
	Logger        zerolog.Logger
	MountIngest   func(path string, h http.Handler)
	UnmountIngest func(path string)

	instancesMu sync.Mutex
	instances   map[uuid.UUID]InstanceRecord
}

func NewInputHandler(reg *inputs.Registry, buf inputs.InputBuffer, repo repository.Inputs, logger zerolog.Logger) *InputHandler {
	return &InputHandler{
		Registry:  reg,
		Buffer:    buf,
		InputRepo: repo,
		Logger:    logger.With().Str("component", "input-handler").Logger(),
		instances: make(map[uuid.UUID]InstanceRecord),
	}
}

// InstanceRecord holds a persisted input and its running MessageInput.
// Err is set when the input should run but could not be started.
type InstanceRecord struct {
	Input model.Input
	Run   inputs.MessageInput
	Path  string
	Err   error
}

type inputInstanceResponse struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Title         string          `json:"title"`
	Configuration json.RawMessage `json:"configuration"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
	DesiredState  string          `json:"desired_state"`
	State         string          `json:"state"`
	Address       string          `json:"address,omitempty"`
	Path          string          `json:"path,omitempty"`
	Error         string          `json:"error,omitempty"`
}

type createInputRequest struct {
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Listen      string          `json:"listen"`
	Config      json.RawMessage `json:"config"`
	State       string          `json:"state"`
}

type updateInputRequest struct {
	Title  string          `json:"title"`
	Config json.RawMessage `json:"config"`
	State  string          `json:"state"`
}

// ListTypes returns registered input type names (GET /inputs/types).
func (h *InputHandler) ListTypes(c echo.Context) error {
	return response.OK(c, map[string]any{"types": h.Registry.ListRegistered()}, "")
}

// GetAllTypesInfo returns config spec for every registered input type (GET /inputs/info).
func (h *InputHandler) GetAllTypesInfo(c echo.Context) error {
	return response.OK(c, map[string]any{"types": h.Registry.AllTypesInfo()}, "")
}

// GetTypeInfo returns config spec for one input type (GET /inputs/types/:type).
func (h *InputHandler) GetTypeInfo(c echo.Context) error {
	typeName := c.Param("type")
	info, ok := h.Registry.GetTypeInfo(typeName)
	if !ok {
		return response.NotFound(c, "unknown input type", "unknown input type: "+typeName)
	}
	return response.OK(c, info, "")
}

// ListInputs returns all persisted inputs with their runtime state (GET /inputs).
func (h *InputHandler) ListInputs(c echo.Context) error {
	list, err := h.InputRepo.List(c.Request().Context())
	if err != nil {
		return response.InternalError(c, "list inputs failed", err.Error())
	}
	out := make([]inputInstanceResponse, 0, len(list))
	for _, in := range list {
		out = append(out, h.describe(in))
	}
	return response.OK(c, map[string]any{"inputs": out}, "")
}

// GetInput returns one input (GET /inputs/:id).
func (h *InputHandler) GetInput(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid id", err.Error())
	}
	in, err := h.InputRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		return h.repoError(c, err)
	}
	return response.OK(c, h.describe(*in), "")
}

// CreateInput validates, persists and starts an input (POST /inputs).
func (h *InputHandler) CreateInput(c echo.Context) error {
	var req createInputRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid JSON body", err.Error())
	}
	if req.Type == "" {
		return response.BadRequest(c, "missing 'type'", "type is required")
	}
	if _, ok := h.Registry.GetTypeInfo(req.Type); !ok {
		return response.BadRequest(c, "unknown input type", "unknown input type: "+req.Type)
	}
	if req.Title == "" {
		req.Title = req.Type + "-" + uuid.New().String()[:8]
	}
	state, err := parseState(req.State, model.InputStateRunning)
	if err != nil {
		return response.BadRequest(c, "invalid state", err.Error())
	}

	cfg := make(inputs.Config)
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return response.BadRequest(c, "invalid config", err.Error())
		}
	}
	if req.Description != "" {
		cfg["description"] = req.Description
	}
	if req.Type == "http" && cfg.String("description") == "" {
		cfg["description"] = req.Title
	}
	if req.Listen != "" {
		cfg["listen"] = req.Listen
	}
	if err := h.Registry.ValidateConfig(req.Type, resolve(req.Title, cfg)); err != nil {
		return response.BadRequest(c, "invalid input config", err.Error())
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return response.BadRequest(c, "invalid input config", err.Error())
	}

	in := model.Input{
		Type:          req.Type,
		Title:         req.Title,
		Configuration: cfgJSON,
		DesiredState:  state,
	}
	ctx := c.Request().Context()
	if err := h.InputRepo.Create(ctx, &in); err != nil {
		return h.repoError(c, err)
	}
	if err := h.apply(in); err != nil {
		if derr := h.InputRepo.Delete(ctx, in.ID); derr != nil {
			h.Logger.Error().Err(derr).Str("input", in.ID.String()).Msg("could not remove input after failed start")
		}
		return startError(c, err)
	}
	h.Logger.Info().Str("input", in.ID.String()).Str("type", in.Type).Str("title", in.Title).Msg("input created")
	return response.Created(c, h.describe(in), "")
}

// UpdateInput changes title, configuration or desired state and restarts
// the input (PUT /inputs/:id). The previous runtime is restored when the new
// one cannot start.
func (h *InputHandler) UpdateInput(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid id", err.Error())
	}
	var req updateInputRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid JSON body", err.Error())
	}
	ctx := c.Request().Context()
	current, err := h.InputRepo.GetByID(ctx, id)
	if err != nil {
		return h.repoError(c, err)
	}

	next := *current
	if req.Title != "" {
		next.Title = req.Title
	}
	if next.DesiredState, err = parseState(req.State, current.DesiredState); err != nil {
		return response.BadRequest(c, "invalid state", err.Error())
	}
	if len(req.Config) > 0 {
		cfg := make(inputs.Config)
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return response.BadRequest(c, "invalid config", err.Error())
		}
		if next.Type == "http" && cfg.String("description") == "" {
			cfg["description"] = next.Title
		}
		if err := h.Registry.ValidateConfig(next.Type, resolve(next.Title, cfg)); err != nil {
			return response.BadRequest(c, "invalid input config", err.Error())
		}
		if next.Configuration, err = json.Marshal(cfg); err != nil {
			return response.BadRequest(c, "invalid input config", err.Error())
		}
	}

	if err := h.apply(next); err != nil {
		h.restore(*current)
		return startError(c, err)
	}
	if err := h.InputRepo.Update(ctx, &next); err != nil {
		h.restore(*current)
		return h.repoError(c, err)
	}
	h.instancesMu.Lock()
	if rec, ok := h.instances[id]; ok {
		rec.Input = next
		h.instances[id] = rec
	}
	h.instancesMu.Unlock()
	h.Logger.Info().Str("input", id.String()).Str("state", string(next.DesiredState)).Msg("input updated")
	return response.OK(c, h.describe(next), "")
}

// DeleteInput stops and removes an input (DELETE /inputs/:id).
func (h *InputHandler) DeleteInput(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid id", err.Error())
	}
	if err := h.InputRepo.Delete(c.Request().Context(), id); err != nil {
		return h.repoError(c, err)
	}
	h.stop(id)
	h.Logger.Info().Str("input", id.String()).Msg("input deleted")
	return response.NoContent(c)
}

// RestoreInputs starts every persisted input whose desired state is RUNNING.
// Failures are logged and reported as FAILED by ListInputs. It returns the
// number of inputs started.
func (h *InputHandler) RestoreInputs(ctx context.Context) (int, error) {
	list, err := h.InputRepo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list inputs: %w", err)
	}
	started := 0
	for _, in := range list {
		if in.DesiredState != model.InputStateRunning {
			continue
		}
		if err := h.apply(in); err != nil {
			h.Logger.Error().Err(err).Str("input", in.ID.String()).Str("title", in.Title).Msg("could not restore input")
			h.instancesMu.Lock()
			h.instances[in.ID] = InstanceRecord{Input: in, Err: err}
			h.instancesMu.Unlock()
			continue
		}
		started++
	}
	h.Logger.Info().Int("started", started).Int("persisted", len(list)).Msg("inputs restored")
	return started, nil
}

// StopAll stops every running input. Persisted state is left untouched.
func (h *InputHandler) StopAll() {
	h.instancesMu.Lock()
	ids := make([]uuid.UUID, 0, len(h.instances))
	for id := range h.instances {
		ids = append(ids, id)
	}
	h.instancesMu.Unlock()
	for _, id := range ids {
		h.stop(id)
	}
}

// apply stops whatever runs for in.ID and starts in when its desired state is
// RUNNING.
func (h *InputHandler) apply(in model.Input) error {
	h.stop(in.ID)
	if in.DesiredState != model.InputStateRunning {
		h.instancesMu.Lock()
		h.instances[in.ID] = InstanceRecord{Input: in}
		h.instancesMu.Unlock()
		return nil
	}

	cfg := make(inputs.Config)
	if len(in.Configuration) > 0 {
		if err := json.Unmarshal(in.Configuration, &cfg); err != nil {
			return fmt.Errorf("decode configuration: %w", err)
		}
	}
	cfg = resolve(in.Title, cfg)
	run, err := h.Registry.Create(in.Type, cfg, h.Buffer)
	if err != nil {
		return err
	}

	var path string
	if ep, ok := run.(inputs.HTTPEndpointInput); ok && cfg.String("listen") == "" {
		path = ep.Path()
		if h.pathTaken(path, in.ID) {
			return fmt.Errorf("%w: %s", errPathInUse, path)
		}
	}
	if err := run.Start(); err != nil {
		return fmt.Errorf("start %s input: %w", in.Type, err)
	}
	if path != "" && h.MountIngest != nil {
		h.MountIngest(path, run.(inputs.HTTPEndpointInput).Handler())
	}

	h.instancesMu.Lock()
	h.instances[in.ID] = InstanceRecord{Input: in, Run: run, Path: path}
	h.instancesMu.Unlock()
	return nil
}

func (h *InputHandler) restore(in model.Input) {
	if err := h.apply(in); err != nil {
		h.Logger.Error().Err(err).Str("input", in.ID.String()).Msg("could not restore previous input runtime")
		h.instancesMu.Lock()
		h.instances[in.ID] = InstanceRecord{Input: in, Err: err}
		h.instancesMu.Unlock()
	}
}

func (h *InputHandler) stop(id uuid.UUID) {
	h.instancesMu.Lock()
	rec, ok := h.instances[id]
	delete(h.instances, id)
	h.instancesMu.Unlock()
	if !ok {
		return
	}
	if rec.Path != "" && h.UnmountIngest != nil {
		h.UnmountIngest(rec.Path)
	}
	if rec.Run != nil {
		if err := rec.Run.Stop(); err != nil {
			h.Logger.Warn().Err(err).Str("input", id.String()).Msg("stop input")
		}
	}
}

func (h *InputHandler) pathTaken(path string, self uuid.UUID) bool {
	h.instancesMu.Lock()
	defer h.instancesMu.Unlock()
	for id, rec := range h.instances {
		if id != self && rec.Path == path {
			return true
		}
	}
	return false
}

func (h *InputHandler) describe(in model.Input) inputInstanceResponse {
	out := inputInstanceResponse{
		ID:            in.ID.String(),
		Type:          in.Type,
		Title:         in.Title,
		Configuration: in.Configuration,
		CreatedAt:     in.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     in.UpdatedAt.Format(time.RFC3339),
		DesiredState:  string(in.DesiredState),
		State:         string(in.DesiredState),
	}
	h.instancesMu.Lock()
	rec, ok := h.instances[in.ID]
	h.instancesMu.Unlock()
	switch {
	case ok && rec.Err != nil:
		out.State = string(model.InputStateFailed)
		out.Error = rec.Err.Error()
	case ok && rec.Run != nil:
		out.State = string(model.InputStateRunning)
		out.Path = rec.Path
		if l, isListener := rec.Run.(inputs.ListenerInput); isListener {
			out.Address = l.Addr()
		}
	case in.DesiredState == model.InputStateRunning:
		out.State = string(model.InputStateStopped)
	}
	return out
}

func (h *InputHandler) repoError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return response.NotFound(c, "input not found", err.Error())
	case errors.Is(err, repository.ErrTitleConflict):
		return response.Conflict(c, "input title already exists", err.Error())
	default:
		h.Logger.Error().Err(err).Msg("input repository")
		return response.InternalError(c, "input repository failed", err.Error())
	}
}

func startError(c echo.Context, err error) error {
	if errors.Is(err, errPathInUse) {
		return response.Conflict(c, "ingest path already in use", err.Error())
	}
	return response.BadRequest(c, "could not start input", err.Error())
}

// resolve fills the tag from the title the way configured inputs get theirs.
func resolve(title string, cfg inputs.Config) inputs.Config {
	return inputs.InputSpec{Title: title, Config: cfg}.Resolved()
}

func parseState(s string, def model.InputState) (model.InputState, error) {
	if s == "" {
		return def, nil
	}
	state := model.InputState(strings.ToUpper(s))
	if !state.Valid() {
		return "", fmt.Errorf("state must be RUNNING or STOPPED, got %q", s)
	}
	return state, nil
}
