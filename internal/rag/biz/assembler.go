package biz

import (
	"fmt"
	"strings"

	"github.com/kart-io/lexica/internal/model"
	apierrors "github.com/kart-io/lexica/pkg/errors"
)

// Assembler packs retrieved chunks into a bounded prompt context.
//
// Chunks are taken in retrieval order. A chunk that does not fit the
// remaining budget whole is truncated to a start-preserving prefix and ends
// the assembly. The budget is measured in runes of chunk text; the numbered
// source labels are not counted against it.
type Assembler struct {
	budget int
}

// NewAssembler creates an Assembler with a context budget in runes.
func NewAssembler(budget int) (*Assembler, error) {
	if budget <= 0 {
		return nil, apierrors.ErrInvalidParam.WithMessage("context budget must be positive")
	}
	return &Assembler{budget: budget}, nil
}

// AssembledContext is the packed prompt context with the chunks it contains.
type AssembledContext struct {
	// Text is the context block to substitute into the system prompt.
	Text string
	// Included lists the chunks present in Text, in inclusion order. A
	// truncated trailing chunk is still included.
	Included []model.RetrievedChunk
}

// Assemble packs chunks into the budget.
func (a *Assembler) Assemble(chunks []model.RetrievedChunk) *AssembledContext {
	var sb strings.Builder
	var included []model.RetrievedChunk

	remaining := a.budget
	for _, chunk := range chunks {
		if remaining <= 0 {
			break
		}

		text := chunk.Text
		runes := []rune(text)
		if len(runes) > remaining {
			text = string(runes[:remaining])
			remaining = 0
		} else {
			remaining -= len(runes)
		}

		fmt.Fprintf(&sb, "[%d] From document %s, part %d:\n%s\n\n",
			len(included)+1, chunk.DocumentID, chunk.ChunkIndex+1, text)
		included = append(included, chunk)
	}

	return &AssembledContext{
		Text:     strings.TrimRight(sb.String(), "\n"),
		Included: included,
	}
}
