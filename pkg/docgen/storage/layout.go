package storage

import "fmt"

// Object naming scheme for batch-scoped objects. Everything a batch produces
// or stages lives under one prefix so cleanup is a prefix walk.

// BatchPrefix returns the storage prefix holding all of a batch's objects.
func BatchPrefix(batchID string) string {
	return fmt.Sprintf("batches/%s/", batchID)
}

// BatchTemplateRef returns the object name of a batch's staged template text.
func BatchTemplateRef(batchID string) string {
	return fmt.Sprintf("batches/%s/template", batchID)
}

// BatchDatasetRef returns the object name of a batch's staged data set.
func BatchDatasetRef(batchID string) string {
	return fmt.Sprintf("batches/%s/dataset", batchID)
}

// BatchArtifactRef returns the object name of one rendered row artifact.
func BatchArtifactRef(batchID, artifactName string) string {
	return fmt.Sprintf("batches/%s/artifacts/%s", batchID, artifactName)
}

// BatchArtifactPrefix returns the prefix holding a batch's row artifacts.
func BatchArtifactPrefix(batchID string) string {
	return fmt.Sprintf("batches/%s/artifacts/", batchID)
}
