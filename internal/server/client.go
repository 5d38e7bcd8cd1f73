package server

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/credengine/internal/config"
	"github.com/sells-group/credengine/internal/engine"
	"github.com/sells-group/credengine/internal/model"
)

// PolicyClient answers the engine's policy questions from static
// configuration and queues prompt requests for the HTTP surface to expose.
type PolicyClient struct {
	cfg config.EngineConfig

	mu            sync.Mutex
	prompts       map[string]engine.PromptRequest
	notifications []model.StoredCredential
}

func NewPolicyClient(cfg config.EngineConfig) *PolicyClient {
	return &PolicyClient{
		cfg:     cfg,
		prompts: make(map[string]engine.PromptRequest),
	}
}

func (c *PolicyClient) IsSavingEnabled(origin string) bool  { return c.cfg.SavingEnabled }
func (c *PolicyClient) IsFillingEnabled(origin string) bool { return c.cfg.FillingEnabled }
func (c *PolicyClient) IsUpdatePasswordUIEnabled() bool     { return c.cfg.UpdatePasswordUIEnabled }
func (c *PolicyClient) IsOffTheRecord() bool                { return c.cfg.OffTheRecord }

func (c *PolicyClient) ShouldSave(cred *model.StoredCredential) bool { return true }

func (c *PolicyClient) PromptToSaveOrUpdate(req engine.PromptRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts[req.UnitID] = req
	zap.L().Info("server: prompt queued",
		zap.String("unit", req.UnitID),
		zap.Bool("is_update", req.IsUpdate),
	)
	return true
}

func (c *PolicyClient) NotifyAutoSavedGeneratedPassword(cred *model.StoredCredential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, *cred)
}

// OpenPrompts returns the queued prompts ordered by unit ID.
func (c *PolicyClient) OpenPrompts() []engine.PromptRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]engine.PromptRequest, 0, len(c.prompts))
	for _, req := range c.prompts {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}

// TakePrompt removes and returns the prompt for the unit, if one is open.
func (c *PolicyClient) TakePrompt(unitID string) (engine.PromptRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.prompts[unitID]
	if ok {
		delete(c.prompts, unitID)
	}
	return req, ok
}

// Notifications drains the auto-save notification list.
func (c *PolicyClient) Notifications() []model.StoredCredential {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.notifications
	c.notifications = nil
	return out
}

// FillRecorder captures the fill and generation signals the engine emits, so
// the HTTP surface can hand them back to the caller driving a page.
type FillRecorder struct {
	mu          sync.Mutex
	fills       map[string]engine.FillData
	generatable map[string]bool
}

func NewFillRecorder() *FillRecorder {
	return &FillRecorder{
		fills:       make(map[string]engine.FillData),
		generatable: make(map[string]bool),
	}
}

func (d *FillRecorder) Fill(data engine.FillData) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fills[data.Form.Origin] = data
}

func (d *FillRecorder) AllowGeneration(form model.ObservedForm) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generatable[form.Origin] = true
}

// Fills returns the recorded fill data keyed by form origin.
func (d *FillRecorder) Fills() map[string]engine.FillData {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]engine.FillData, len(d.fills))
	for k, v := range d.fills {
		out[k] = v
	}
	return out
}

// GenerationAllowed reports whether generation was enabled for the origin.
func (d *FillRecorder) GenerationAllowed(origin string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generatable[origin]
}
