package controller

import "fmt"

// ViewState is the screen currently driving rendering.
type ViewState int

const (
	ViewLanding ViewState = iota
	ViewUpload
	ViewAnalysis
	ViewPreferences
	ViewDashboard
	ViewSettings
	ViewExecution
	ViewSandbox
)

var viewNames = [...]string{
	ViewLanding:     "LANDING",
	ViewUpload:      "UPLOAD",
	ViewAnalysis:    "ANALYSIS",
	ViewPreferences: "PREFERENCES",
	ViewDashboard:   "DASHBOARD",
	ViewSettings:    "SETTINGS",
	ViewExecution:   "EXECUTION",
	ViewSandbox:     "SANDBOX",
}

func (v ViewState) String() string {
	if v < 0 || int(v) >= len(viewNames) {
		return fmt.Sprintf("ViewState(%d)", int(v))
	}
	return viewNames[v]
}

// MarshalText implements encoding.TextMarshaler.
func (v ViewState) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Trigger is a user or system event that may move the view.
type Trigger string

const (
	TriggerEnter              Trigger = "enter"
	TriggerImageSelected      Trigger = "image_selected"
	TriggerNoCredential       Trigger = "no_credential"
	TriggerVisionSucceeded    Trigger = "vision_succeeded"
	TriggerVisionFailed       Trigger = "vision_failed"
	TriggerGenerate           Trigger = "generate"
	TriggerSynthesisSucceeded Trigger = "synthesis_succeeded"
	TriggerSynthesisFailed    Trigger = "synthesis_failed"
	TriggerReset              Trigger = "reset"
	TriggerStartCooking       Trigger = "start_cooking"
	TriggerOpenSandbox        Trigger = "open_sandbox"
	TriggerExit               Trigger = "exit"
	TriggerBack               Trigger = "back"
	TriggerOpenSettings       Trigger = "open_settings"
	TriggerCredentialDenied   Trigger = "credential_denied"
)

type edge struct {
	from    ViewState
	trigger Trigger
}

var transitions = map[edge]ViewState{
	{ViewLanding, TriggerEnter}:               ViewUpload,
	{ViewUpload, TriggerImageSelected}:        ViewAnalysis,
	{ViewUpload, TriggerNoCredential}:         ViewSettings,
	{ViewAnalysis, TriggerVisionSucceeded}:    ViewPreferences,
	{ViewAnalysis, TriggerVisionFailed}:       ViewUpload,
	{ViewPreferences, TriggerGenerate}:        ViewAnalysis,
	{ViewAnalysis, TriggerSynthesisSucceeded}: ViewDashboard,
	{ViewAnalysis, TriggerSynthesisFailed}:    ViewPreferences,
	{ViewAnalysis, TriggerCredentialDenied}:   ViewSettings,
	{ViewDashboard, TriggerReset}:             ViewUpload,
	{ViewDashboard, TriggerStartCooking}:      ViewExecution,
	{ViewDashboard, TriggerOpenSandbox}:       ViewSandbox,
	{ViewExecution, TriggerExit}:              ViewDashboard,
	{ViewSandbox, TriggerBack}:                ViewDashboard,
	{ViewSettings, TriggerBack}:               ViewUpload,
}

// transition resolves a trigger. Open settings is legal from every view except
// Landing and Execution.
func transition(from ViewState, t Trigger) (ViewState, bool) {
	if t == TriggerOpenSettings {
		return ViewSettings, from != ViewLanding && from != ViewExecution
	}
	to, ok := transitions[edge{from, t}]
	return to, ok
}

// AnalysisKind tells which call an Analysis visit is waiting on.
type AnalysisKind int

const (
	AnalysisNone AnalysisKind = iota
	AnalysisVision
	AnalysisSynthesis
)

func (k AnalysisKind) String() string {
	switch k {
	case AnalysisVision:
		return "vision"
	case AnalysisSynthesis:
		return "synthesis"
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k AnalysisKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Log scripts shown while an analysis call runs.
var (
	VisionLogs = []string{
		"Initializing Multimodal Interface...",
		"Uploading Context to Gemini 3 Flash (2M Context Window)...",
		"Processing Visual Stream (Spatial Reasoning Enabled)...",
		"Extracting Bounding Boxes & Segmentation Masks (JSON Mode)...",
		"Calculating Volumetric Density via Depth Map...",
		"Verifying Freshness Index...",
	}
	SynthesisLogs = []string{
		"Aligning Culinary Vector with Selected Cuisine...",
		"Applying Bio-Protocol Constraints...",
		"Loading FlavorGraph.csv into Context...",
		"Connecting to Google Search Grounding for Trends...",
		"Synthesizing Molecular Pairings...",
		"Finalizing Liquid Glass Render...",
	}
)

func (k AnalysisKind) logs() []string {
	switch k {
	case AnalysisVision:
		return VisionLogs
	case AnalysisSynthesis:
		return SynthesisLogs
	default:
		return nil
	}
}
