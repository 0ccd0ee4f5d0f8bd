package checkpoint

import (
	"strings"

	"github.com/pkg/errors"
)

// qaHeadOutputs is the number of outputs of the span-classifier head: one
// start logit and one end logit per token.
const qaHeadOutputs = 2

// VerifyQAHead checks that the checkpoint carries an extractive-QA span
// classifier head: a "qa_outputs" linear layer projecting the encoder's
// hidden states to 2 logits per position. hiddenSize 0 skips the hidden-size
// check (sharded checkpoints whose config is not at hand).
//
// This catches the common operational mistake of pointing the evaluation at a
// base (not fine-tuned) checkpoint, which would otherwise only show up as
// nonsense metrics.
func (c *Checkpoint) VerifyQAHead(hiddenSize int) error {
	var weightName, biasName string
	for name := range c.weightMap {
		if !strings.Contains(name, "qa_outputs") {
			continue
		}
		switch {
		case strings.HasSuffix(name, ".weight"):
			weightName = name
		case strings.HasSuffix(name, ".bias"):
			biasName = name
		}
	}
	if weightName == "" {
		return errors.Errorf("checkpoint %s has no qa_outputs weight: not an extractive-QA checkpoint", c.dir)
	}

	weight, err := c.Meta(weightName)
	if err != nil {
		return err
	}
	if len(weight.Shape) != 2 || weight.Shape[0] != qaHeadOutputs {
		return errors.Errorf("checkpoint %s: %s has shape %v, expected [%d, hidden]",
			c.dir, weightName, weight.Shape, qaHeadOutputs)
	}
	if hiddenSize > 0 && weight.Shape[1] != hiddenSize {
		return errors.Errorf("checkpoint %s: %s has hidden size %d, expected %d",
			c.dir, weightName, weight.Shape[1], hiddenSize)
	}

	if biasName != "" {
		bias, err := c.Meta(biasName)
		if err != nil {
			return err
		}
		if len(bias.Shape) != 1 || bias.Shape[0] != qaHeadOutputs {
			return errors.Errorf("checkpoint %s: %s has shape %v, expected [%d]",
				c.dir, biasName, bias.Shape, qaHeadOutputs)
		}
	}
	return nil
}
