package graph

// BatchConfig sets the UNWIND batch size used per node label when
// persisting a large parsed-entity set. Small batches avoid one giant
// transaction; large batches avoid excessive round trips.
type BatchConfig struct {
	FunctionBatchSize  int
	ClassBatchSize     int
	InterfaceBatchSize int
	TypeBatchSize      int
	VariableBatchSize  int
	ComponentBatchSize int
	EdgeBatchSize      int
}

// DefaultBatchConfig returns batch sizes tuned for a mid-size repository
// (on the order of a few thousand files).
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		FunctionBatchSize:  1000,
		ClassBatchSize:     500,
		InterfaceBatchSize: 500,
		TypeBatchSize:      500,
		VariableBatchSize:  1000,
		ComponentBatchSize: 500,
		EdgeBatchSize:      2000,
	}
}

func (bc BatchConfig) sizeFor(label string) int {
	switch label {
	case "Function", "Component":
		return bc.FunctionBatchSize
	case "Class":
		return bc.ClassBatchSize
	case "Interface":
		return bc.InterfaceBatchSize
	case "Type":
		return bc.TypeBatchSize
	case "Variable":
		return bc.VariableBatchSize
	default:
		return 500
	}
}
