package speech

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"github.com/oshokin/exhibit-kiosk/internal/logger"
)

//nolint:gochecknoglobals // Shared codec configuration.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Recognition is one phrase heard by the speech recognizer.
type Recognition struct {
	// Text is the recognized phrase.
	Text string `json:"text"`
	// Confidence is the recognizer confidence in the 0..1 range.
	Confidence float64 `json:"confidence"`
}

// Listener is the speech input collaborator.
type Listener interface {
	// Results streams recognized phrases until the engine stops.
	Results() <-chan Recognition
}

// LineSource streams raw JSON lines, as sidecar.Process does.
type LineSource interface {
	Lines() <-chan []byte
}

// LineListener decodes Recognition values from a line source.
type LineListener struct {
	results chan Recognition
}

// NewLineListener starts decoding lines in the background; malformed lines are logged and dropped.
func NewLineListener(ctx context.Context, source LineSource) *LineListener {
	l := &LineListener{
		results: make(chan Recognition),
	}

	go func() {
		defer close(l.results)

		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-source.Lines():
				if !ok {
					return
				}

				var r Recognition
				if err := json.Unmarshal(line, &r); err != nil {
					logger.WarnKV(ctx, "Malformed recognition line", "error", err)
					continue
				}

				select {
				case l.results <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return l
}

// Results implements Listener.
func (l *LineListener) Results() <-chan Recognition {
	return l.results
}
