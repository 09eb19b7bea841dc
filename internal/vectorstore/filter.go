package vectorstore

import "fmt"

// MissingWorkspaceError is returned when a search is attempted without a
// workspace scope. Cross-workspace queries are never valid, so this is
// treated as a programming error by callers rather than a degraded source.
type MissingWorkspaceError struct {
	Collection string
}

func (e MissingWorkspaceError) Error() string {
	return fmt.Sprintf("vectorstore: search without workspace_id (collection %s)", e.Collection)
}

func (f Filter) validate() error {
	if f.WorkspaceID == "" {
		return MissingWorkspaceError{}
	}
	return nil
}

// toQdrant renders the filter as Qdrant must-clauses. WorkspaceID is always
// present after validate.
func (f Filter) toQdrant() map[string]interface{} {
	must := []map[string]interface{}{
		{"key": "workspace_id", "match": map[string]interface{}{"value": f.WorkspaceID}},
	}
	if f.Type != "" {
		must = append(must, map[string]interface{}{
			"key": "type", "match": map[string]interface{}{"value": string(f.Type)},
		})
	}
	if f.BelongsToStage != "" {
		must = append(must, map[string]interface{}{
			"key": "belongs_to_stage", "match": map[string]interface{}{"value": f.BelongsToStage},
		})
	}
	if f.ExecutionID != "" {
		must = append(must, map[string]interface{}{
			"key": "execution_id", "match": map[string]interface{}{"value": f.ExecutionID},
		})
	}
	if len(f.FilePaths) > 0 {
		must = append(must, map[string]interface{}{
			"key": "file_path", "match": map[string]interface{}{"any": f.FilePaths},
		})
	}
	return map[string]interface{}{"must": must}
}
