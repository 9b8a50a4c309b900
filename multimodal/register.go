package multimodal

import (
	"context"
	"log"

	"github.com/astrolab/research-agent/imagestore"
)

const descriptionUnavailable = "Image description not available"

// Register persists extracted figure metadata, filling in missing
// descriptions through the describer when one is configured. Description
// failures degrade to a placeholder; extraction output is never lost because
// a vision call failed.
func Register(ctx context.Context, store *imagestore.Store, refs []imagestore.ImageRef, describer Describer, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	if len(refs) == 0 {
		return nil
	}

	for i := range refs {
		if refs[i].Description != "" || describer == nil {
			continue
		}
		description, err := describer.Describe(ctx, refs[i].Path)
		if err != nil {
			logger.Printf("describe image %s: %v", refs[i].Path, err)
			refs[i].Description = descriptionUnavailable
			continue
		}
		refs[i].Description = description
	}

	return store.Append(refs)
}
