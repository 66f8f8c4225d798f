package worker

import (
	"sync"

	"github.com/ggoodman/agent-jsonrpc-go/protocol"
)

// Documents tracks the text documents the controller has opened.
type Documents struct {
	mu      sync.RWMutex
	docs    map[string]protocol.TextDocument
	focused string
}

// NewDocuments returns an empty store.
func NewDocuments() *Documents {
	return &Documents{docs: make(map[string]protocol.TextDocument)}
}

// Open records doc and focuses it.
func (d *Documents) Open(doc protocol.TextDocument) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[doc.Key()] = doc
	d.focused = doc.Key()
}

// Change merges doc into the stored copy. Absent content or selection keeps
// the previous value.
func (d *Documents) Change(doc protocol.TextDocument) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[doc.Key()] = merge(d.docs[doc.Key()], doc)
}

// Focus marks doc as the active document, recording it if unknown.
func (d *Documents) Focus(doc protocol.TextDocument) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[doc.Key()] = merge(d.docs[doc.Key()], doc)
	d.focused = doc.Key()
}

// Close forgets doc.
func (d *Documents) Close(doc protocol.TextDocument) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.docs, doc.Key())
	if d.focused == doc.Key() {
		d.focused = ""
	}
}

// Get returns the document stored under key.
func (d *Documents) Get(key string) (protocol.TextDocument, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.docs[key]
	return doc, ok
}

// Focused returns the active document.
func (d *Documents) Focused() (protocol.TextDocument, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.focused == "" {
		return protocol.TextDocument{}, false
	}
	doc, ok := d.docs[d.focused]
	return doc, ok
}

// Len returns the number of open documents.
func (d *Documents) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.docs)
}

func merge(prev, next protocol.TextDocument) protocol.TextDocument {
	if next.Content == nil {
		next.Content = prev.Content
	}
	if next.Selection == nil {
		next.Selection = prev.Selection
	}
	return next
}
