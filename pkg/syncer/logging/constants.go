package logging

const (
	RunKeyPrefix = "run."
	RunID        = RunKeyPrefix + "id"
	RunMode      = RunKeyPrefix + "mode"
	RunState     = RunKeyPrefix + "state"

	ItemKeyPrefix = "item."
	ItemKey       = ItemKeyPrefix + "key"
	ItemType      = ItemKeyPrefix + "type"
	ItemContainer = ItemKeyPrefix + "container"
	ItemOperation = ItemKeyPrefix + "operation"
)
