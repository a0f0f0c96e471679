package daemon

import (
	"context"

	"github.com/axon-embed/axon/internal/pipeline"
)

// PipelineEmbedder adapts *pipeline.Pipeline to the daemon's Embedder
// interface, translating BatchItem into pipeline.Item with the
// "crawl"/content-type metadata spec §4.5.7 step 7 specifies.
type PipelineEmbedder struct {
	Pipeline *pipeline.Pipeline
}

// BatchEmbedItems implements Embedder.
func (a *PipelineEmbedder) BatchEmbedItems(ctx context.Context, items []BatchItem, concurrency int, onProgress func(current, total int)) BatchOutcome {
	pipelineItems := make([]pipeline.Item, 0, len(items))
	for _, it := range items {
		pipelineItems = append(pipelineItems, pipeline.Item{
			Content: it.Content,
			Metadata: pipeline.Metadata{
				URL:           it.URL,
				Title:         it.Title,
				SourceCommand: "crawl",
				ContentType:   it.ContentType,
			},
		})
	}

	result := a.Pipeline.BatchEmbed(ctx, pipelineItems, pipeline.BatchOptions{
		Concurrency: concurrency,
		OnProgress:  onProgress,
	})

	return BatchOutcome{Succeeded: result.Succeeded, Failed: result.Failed, Errors: result.Errors}
}
