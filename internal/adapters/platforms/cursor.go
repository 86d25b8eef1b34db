package platforms

import (
	"context"

	"github.com/coursekeep/coursekeep/internal/ports"
)

// entry est un élément d'énumération déjà extrait : une valeur, ou l'erreur
// d'extraction de ce seul élément (rendue comme *ports.ItemError).
type entry[T any] struct {
	item T
	err  error
}

func ok[T any](item T) entry[T] { return entry[T]{item: item} }

func bad[T any](id string, err error) entry[T] {
	return entry[T]{err: &ports.ItemError{ID: id, Err: err}}
}

// sliceCursor expose une liste déjà matérialisée comme ports.Cursor.
// Pratique pour les plateformes qui renvoient tout d'un coup.
type sliceCursor[T any] struct {
	entries []entry[T]
	pos     int
	err     error
}

func newSliceCursor[T any](items []T, err error) *sliceCursor[T] {
	c := &sliceCursor[T]{err: err}
	for _, it := range items {
		c.entries = append(c.entries, ok(it))
	}
	return c
}

func newEntryCursor[T any](entries []entry[T], err error) *sliceCursor[T] {
	return &sliceCursor[T]{entries: entries, err: err}
}

func (c *sliceCursor[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if c.err != nil {
		err := c.err
		c.err = nil
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if c.pos >= len(c.entries) {
		return zero, ports.ErrEnd
	}
	e := c.entries[c.pos]
	c.pos++
	if e.err != nil {
		return zero, e.err
	}
	return e.item, nil
}

// pagedCursor itère une API paginée page par page. fetch renvoie le lot
// suivant plus le curseur de continuation ("" = dernière page).
type pagedCursor[T any] struct {
	fetch func(ctx context.Context, cursor string) ([]entry[T], string, error)

	buf  []entry[T]
	next string
	done bool
}

func newPagedCursor[T any](fetch func(ctx context.Context, cursor string) ([]entry[T], string, error)) *pagedCursor[T] {
	return &pagedCursor[T]{fetch: fetch}
}

func (c *pagedCursor[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for len(c.buf) == 0 {
		if c.done {
			return zero, ports.ErrEnd
		}
		items, next, err := c.fetch(ctx, c.next)
		if err != nil {
			return zero, err
		}
		c.buf = items
		c.next = next
		if next == "" {
			c.done = true
		}
		if len(items) == 0 && c.done {
			return zero, ports.ErrEnd
		}
	}
	e := c.buf[0]
	c.buf = c.buf[1:]
	if e.err != nil {
		return zero, e.err
	}
	return e.item, nil
}
