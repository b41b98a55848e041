package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const (
	prettifyPrompt = "Create a high-quality, photorealistic studio photograph based on this chalk drawing. " +
		"Replace the chalk lines with real objects and cinematic lighting. Make it really beautiful."
	sloppifyPrompt = "Identify the key items in this chalk drawing. " +
		"Then, write 5 paragraphs of pure AI slop about it. Tone: Corporate/LinkedIn rambling."
)

// runDerivatives fans out the three derivative branches over the extracted
// chalk image. The branches are independent: each writes only its own record
// field, and a failing or panicking branch is logged and leaves its field
// unset without affecting the others.
func (o *Orchestrator) runDerivatives(ctx context.Context, id string, processed []byte) {
	var g errgroup.Group

	g.Go(func() error {
		o.runBranch(id, "uglify", func() (map[string]string, error) {
			out, err := o.stylize(processed)
			if err != nil {
				return nil, err
			}
			url, err := o.blobs.Put(out, id+"-uglify.jpg")
			if err != nil {
				return nil, err
			}
			return map[string]string{"stylized_url": url}, nil
		})
		return nil
	})

	g.Go(func() error {
		o.runBranch(id, "prettify", func() (map[string]string, error) {
			out, err := o.gen.GenerateImage(ctx, prettifyPrompt, processed)
			if err != nil {
				return nil, err
			}
			url, err := o.blobs.Put(out, id+"-prettify.jpg")
			if err != nil {
				return nil, err
			}
			return map[string]string{"reimagined_url": url}, nil
		})
		return nil
	})

	g.Go(func() error {
		o.runBranch(id, "sloppify", func() (map[string]string, error) {
			text, err := o.gen.GenerateText(ctx, sloppifyPrompt, processed)
			if err != nil {
				return nil, err
			}
			return map[string]string{"narrative_text": text}, nil
		})
		return nil
	})

	g.Wait()
}

// runBranch executes one derivative branch and persists its fields on
// success. Errors and panics stop at the branch boundary.
func (o *Orchestrator) runBranch(id, name string, fn func() (map[string]string, error)) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("derivative branch panicked", "scan_id", id, "branch", name, "panic", fmt.Sprint(r))
		}
	}()

	fields, err := fn()
	if err != nil {
		o.logger.Warn("derivative branch failed", "scan_id", id, "branch", name, "error", err)
		return
	}
	o.persist(id, fields)
}
