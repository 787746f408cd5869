package history

import (
	"context"
	"log/slog"

	"go.klb.dev/clipvault/internal/selection"
	"go.klb.dev/clipvault/internal/store"
)

// logSelection logs a stored selection at INFO (id, kind, mime types) and
// DEBUG (preview of each offer).
func logSelection(event string, st store.StoredSelection, sel selection.Selection) {
	slog.Info(event,
		"selection", st.ID,
		"kind", string(st.Kind),
		"source", st.Source,
		"types", sel.MimeTypes(),
	)

	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, o := range sel.Offers {
		slog.Debug("selection offer",
			"mime", o.MimeType,
			"preview", selection.Preview(o.MimeType, o.Data),
			"size_bytes", len(o.Data),
		)
	}
}
