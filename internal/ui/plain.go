package ui

import (
	"context"

	"github.com/Aman-CERP/finrag/internal/output"
)

// PlainRenderer writes progress through an output.Writer.
type PlainRenderer struct {
	out *output.Writer
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: output.New(cfg.Output)}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) (context.Context, error) {
	return ctx, nil
}

// Begin implements Renderer.
func (r *PlainRenderer) Begin(label string) {
	r.out.Status("📄", label)
}

// Progress implements Renderer.
func (r *PlainRenderer) Progress(current, total int, msg string) {
	r.out.Progress(current, total, msg)
}

// ProgressDone implements Renderer.
func (r *PlainRenderer) ProgressDone() {
	r.out.ProgressDone()
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
