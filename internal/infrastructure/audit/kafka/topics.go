package kafka

// Action names the mutating operation an audit event records.
type Action string

const (
	ActionDatasetUploaded   Action = "dataset.uploaded"
	ActionDatasetVersioned  Action = "dataset.versioned"
	ActionDatasetDeleted    Action = "dataset.deleted"
	ActionFilterCreated     Action = "filter.created"
	ActionFilterUpdated     Action = "filter.updated"
	ActionFilterDeleted     Action = "filter.deleted"
	ActionCohortCreated     Action = "cohort.created"
	ActionCohortUpdated     Action = "cohort.updated"
	ActionCohortDeleted     Action = "cohort.deleted"
	ActionComparisonRun     Action = "comparison.run"
)

// Entity kinds referenced by audit events.
const (
	EntityDataset    = "master_data"
	EntityFilter     = "saved_filter"
	EntityCohort     = "cohort"
	EntityComparison = "comparison"
)
