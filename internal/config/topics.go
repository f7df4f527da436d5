package config

const (
	// TopicCVCreated carries newly stored documents that still need chunking and embedding.
	TopicCVCreated = "cv.created"
)
