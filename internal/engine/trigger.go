package engine

import (
	"fmt"

	"github.com/mattjoyce/pipelab/internal/pipeline"
)

// ManualOrigin is the start origin used when a request names none.
var ManualOrigin = pipeline.Origin{PluginID: "system", NodeID: "manual"}

// SelectTrigger decides whether doc may start from origin. A document without
// triggers accepts any start and yields a nil trigger. Otherwise the first
// trigger with a matching origin is returned, or ErrNotTriggerable.
func SelectTrigger(doc *pipeline.Document, origin pipeline.Origin) (*pipeline.Block, error) {
	if len(doc.Canvas.Triggers) == 0 {
		return nil, nil
	}
	if origin == (pipeline.Origin{}) {
		origin = ManualOrigin
	}
	if t, ok := doc.Trigger(origin); ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotTriggerable, origin)
}
