package memory

import (
	"reflect"

	"conductor/internal/domain"
)

// OfType matches entries of the given memory type.
func OfType(memoryType string) domain.EntryPredicate {
	return func(e domain.MemoryEntry) bool { return e.MemoryType == memoryType }
}

// MinImportance matches entries at or above importance.
func MinImportance(importance float64) domain.EntryPredicate {
	return func(e domain.MemoryEntry) bool { return e.Importance >= importance }
}

// MetadataEquals matches entries whose metadata key holds value.
func MetadataEquals(key string, value any) domain.EntryPredicate {
	return func(e domain.MemoryEntry) bool {
		v, ok := e.Metadata[key]
		return ok && reflect.DeepEqual(v, value)
	}
}

// IndexOfType matches long-term index records of the given memory type.
func IndexOfType(memoryType string) domain.IndexPredicate {
	return func(r domain.IndexRecord) bool { return r.MemoryType == memoryType }
}

// IndexMetadataEquals matches index records whose metadata key holds value.
func IndexMetadataEquals(key string, value any) domain.IndexPredicate {
	return func(r domain.IndexRecord) bool {
		v, ok := r.Metadata[key]
		return ok && reflect.DeepEqual(v, value)
	}
}

// All combines predicates with logical AND.
func All(preds ...domain.EntryPredicate) domain.EntryPredicate {
	return func(e domain.MemoryEntry) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}
}
