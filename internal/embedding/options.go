package embedding

// ONNXOptions configures a local ONNX Runtime embedder.
type ONNXOptions struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	// Names of the model's input and output nodes; BERT defaults apply when empty.
	InputNames []string
	OutputName string
}

func (o ONNXOptions) withDefaults() ONNXOptions {
	if o.MaxTokens <= 2 {
		o.MaxTokens = defaultMaxToken
	}
	if len(o.InputNames) == 0 {
		o.InputNames = []string{"input_ids", "attention_mask", "token_type_ids"}
	}
	if o.OutputName == "" {
		o.OutputName = "output"
	}
	return o
}
