package log

// Attribute keys shared by the ingest, driver and worker log lines, so
// one query over the output matches all three.
const (
	FieldError       = "error"
	FieldPartition   = "partition"
	FieldDestination = "destination"
	FieldRegion      = "region"
	FieldSourceUnit  = "unit"
	FieldCursor      = "cursor"
	FieldRows        = "rows"
	FieldTotal       = "total"
	FieldIteration   = "iteration"
	FieldElapsed     = "elapsed"
)

// Component names passed to WithComponent.
const (
	ComponentCLI    = "cli"
	ComponentWorker = "worker"
)
