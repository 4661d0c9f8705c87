package domain

// RunRequest asks for a flow execution either by stored flow ID or with an inline flow.
// Non-zero overrides replace the flow's own source path and options.
type RunRequest struct {
	FlowID      string      `json:"flow_id,omitempty" yaml:"flow_id,omitempty"`
	Flow        *Flow       `json:"flow,omitempty" yaml:"flow,omitempty"`
	SourcePath  string      `json:"source_path,omitempty" yaml:"source_path,omitempty"`
	DryRun      bool        `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	ChunkSize   *int        `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	ErrorPolicy ErrorPolicy `json:"error_policy,omitempty" yaml:"error_policy,omitempty"`
}
