package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/ppiankov/legiscrape/internal/model"
)

// Handler takes over persistence of every entity when configured
type Handler interface {
	Handle(ctx context.Context, e model.Entity) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, e model.Entity) error

func (f HandlerFunc) Handle(ctx context.Context, e model.Entity) error { return f(ctx, e) }

var (
	handlersMu sync.RWMutex
	handlers   = map[string]Handler{
		"jsonl": NewJSONLHandler(os.Stdout),
	}
)

// RegisterHandler makes a handler selectable by name
func RegisterHandler(name string, h Handler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers[name] = h
}

// LookupHandler returns the handler registered under name
func LookupHandler(name string) (Handler, error) {
	handlersMu.RLock()
	defer handlersMu.RUnlock()
	h, ok := handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown output handler %q (available: %v)", name, handlerNames())
	}
	return h, nil
}

func handlerNames() []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JSONLHandler writes one {"type":...,"data":...} line per entity
type JSONLHandler struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLHandler creates a handler writing to w
func NewJSONLHandler(w io.Writer) *JSONLHandler {
	return &JSONLHandler{w: w}
}

func (h *JSONLHandler) Handle(_ context.Context, e model.Entity) error {
	fields, err := model.Fields(e)
	if err != nil {
		return err
	}
	line, err := json.Marshal(map[string]any{"type": e.Kind(), "data": fields})
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Kind(), err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", e.Kind(), err)
	}
	return nil
}
