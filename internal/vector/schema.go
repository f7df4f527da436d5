package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// ChunkProperties are the Weaviate properties of a chunk object. Identifier
// properties use field tokenization so equality filters match whole values.
func ChunkProperties() []*models.Property {
	return []*models.Property{
		{Name: "chunkId", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "docId", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "sectionType", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "text", DataType: []string{"text"}},
		{Name: "ordinal", DataType: []string{"int"}},
	}
}

// EnsureSchema creates the chunk class with cosine distance and no
// vectorizer, or adds properties missing from an existing class.
func EnsureSchema(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := ChunkProperties()

	if !exists {
		class := &models.Class{
			Class:             className,
			Description:       "A section-aware chunk of a CV",
			Vectorizer:        "none",
			VectorIndexConfig: map[string]interface{}{"distance": "cosine"},
			Properties:        properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}
