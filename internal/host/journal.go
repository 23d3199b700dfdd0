package host

import (
	"context"
	"sync"
)

type journalKey struct{}

// Journal is a rollback log. Undo entries are replayed newest first.
// A committed child journal hands its entries to its parent so an outer
// rollback also undoes nested work.
type Journal struct {
	mu      sync.Mutex
	parent  *Journal
	entries []func()
	onClose []func()
	done    bool
}

// Begin opens a journal nested under any journal already carried by ctx.
func Begin(ctx context.Context) (context.Context, *Journal) {
	j := &Journal{parent: JournalFrom(ctx)}
	return context.WithValue(ctx, journalKey{}, j), j
}

// JournalFrom returns the innermost journal carried by ctx.
func JournalFrom(ctx context.Context) *Journal {
	if ctx == nil {
		return nil
	}
	j, _ := ctx.Value(journalKey{}).(*Journal)
	return j
}

// Record appends an undo entry to the journal carried by ctx, if any.
func Record(ctx context.Context, undo func()) {
	if j := JournalFrom(ctx); j != nil {
		j.add(undo)
	}
}

func (j *Journal) add(undo func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		// late writes after close go to the parent so they can still be undone
		if j.parent != nil {
			j.parent.add(undo)
		}
		return
	}
	j.entries = append(j.entries, undo)
}

// Root returns the outermost journal j is nested in, or j itself.
func (j *Journal) Root() *Journal {
	if j == nil {
		return nil
	}
	for j.parent != nil {
		j = j.parent
	}
	return j
}

// OnClose defers fn until the outermost journal carried by ctx commits or
// rolls back; after a rollback fn runs once every undo entry has run. It
// reports false, without running fn, when ctx carries no open journal.
func OnClose(ctx context.Context, fn func()) bool {
	root := JournalFrom(ctx).Root()
	if root == nil {
		return false
	}
	root.mu.Lock()
	defer root.mu.Unlock()
	if root.done {
		return false
	}
	root.onClose = append(root.onClose, fn)
	return true
}

func (j *Journal) close() {
	j.mu.Lock()
	hooks := j.onClose
	j.onClose = nil
	j.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Len returns the number of pending undo entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Commit closes the journal, keeping its effects.
func (j *Journal) Commit() {
	j.mu.Lock()
	entries := j.entries
	j.entries = nil
	j.done = true
	j.mu.Unlock()

	if j.parent != nil {
		for _, undo := range entries {
			j.parent.add(undo)
		}
		return
	}
	j.close()
}

// Rollback closes the journal and undoes everything recorded in it.
func (j *Journal) Rollback() {
	j.mu.Lock()
	entries := j.entries
	j.entries = nil
	j.done = true
	j.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		entries[i]()
	}
	j.close()
}
