package artifact

import (
	"github.com/djeday123/reviewtune/nn"
	"github.com/djeday123/reviewtune/tokenizer"
)

// Checkpointer writes training checkpoints as loadable artifact
// directories. It implements train.CheckpointWriter.
type Checkpointer struct {
	Tokenizer *tokenizer.WordPiece
}

// WriteCheckpoint writes the model (and tokenizer, when set) into dir
// through the same staging directory as Save, so a failed write leaves no
// checkpoint behind.
func (c Checkpointer) WriteCheckpoint(dir string, model *nn.SequenceClassifier) error {
	return Save(dir, model, c.Tokenizer)
}
