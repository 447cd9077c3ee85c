// Package file provides file-based persistence for wait executions and
// event listeners, for development and single-node deployments.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/waitline/waitline/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system. One
// JSON document per record; queries scan the directory. A single process
// lock serializes mutations, which is the concurrency model a file store
// can honestly offer.
type Persistence struct {
	root         string
	mu           sync.RWMutex
	waitRepo     *WaitExecutionRepository
	listenerRepo *EventListenerRepository
}

func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.waitRepo = &WaitExecutionRepository{store: p}
	p.listenerRepo = &EventListenerRepository{store: p}

	return p
}

func (p *Persistence) WaitExecutions() persistence.WaitExecutionRepository {
	return p.waitRepo
}

func (p *Persistence) EventListeners() persistence.EventListenerRepository {
	return p.listenerRepo
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
