package telemetry

import (
	"context"

	"github.com/petasbytes/go-assistant/internal/metrics"
)

// EmitReplyFeatures records size features of a final reply without the text
// itself.
func EmitReplyFeatures(ctx context.Context, reply string) {
	if !ObserveEnabled() {
		return
	}
	turnID, _ := TurnIDFromContext(ctx)
	f := metrics.CountFeatures(reply)
	Emit("reply_features", map[string]any{
		"turn_id":          turnID,
		"features_version": metrics.FeaturesVersion,
		"reply": map[string]any{
			"bytes":      f.Bytes,
			"runes":      f.Runes,
			"words":      f.Words,
			"lines":      f.Lines,
			"paragraphs": f.Paragraphs,
		},
	})
}
