package comfy

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed workflows/relight.json
var relightWorkflow []byte

// Node ids patched in the relight workflow template.
const (
	nodeMainImage      = "10"
	nodeReferenceImage = "11"
	nodePositive       = "20"
	nodeSampler        = "40"
	nodeSave           = "60"
)

type workflow map[string]map[string]any

// ProcessRequest carries the normalized job parameters and the names the
// images were uploaded under.
type ProcessRequest struct {
	Prompt         string
	Steps          int
	CFG            float64
	Seed           int64
	MainImage      string
	ReferenceImage string
	FilenamePrefix string
}

// buildWorkflow loads a fresh copy of the template and fills in the request.
func buildWorkflow(req ProcessRequest) (workflow, error) {
	var wf workflow
	if err := json.Unmarshal(relightWorkflow, &wf); err != nil {
		return nil, fmt.Errorf("comfy: parse workflow template: %w", err)
	}
	if err := wf.setInput(nodeMainImage, "image", req.MainImage); err != nil {
		return nil, err
	}
	if err := wf.setInput(nodeReferenceImage, "image", req.ReferenceImage); err != nil {
		return nil, err
	}
	if err := wf.setInput(nodePositive, "prompt", req.Prompt); err != nil {
		return nil, err
	}
	for key, value := range map[string]any{"steps": req.Steps, "cfg": req.CFG, "seed": req.Seed} {
		if err := wf.setInput(nodeSampler, key, value); err != nil {
			return nil, err
		}
	}
	if req.FilenamePrefix != "" {
		if err := wf.setInput(nodeSave, "filename_prefix", req.FilenamePrefix); err != nil {
			return nil, err
		}
	}
	return wf, nil
}

func (wf workflow) setInput(nodeID, key string, value any) error {
	node, ok := wf[nodeID]
	if !ok {
		return fmt.Errorf("comfy: workflow node %s missing", nodeID)
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		return fmt.Errorf("comfy: workflow node %s has no inputs", nodeID)
	}
	inputs[key] = value
	return nil
}
