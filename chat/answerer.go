package chat

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/fabfab/scanqa/document"
	"github.com/fabfab/scanqa/llm"
)

// RefusalSentence is returned verbatim whenever the evidence does not answer
// the question.
const RefusalSentence = "The document does not clearly state this information."

const defaultGenerationTimeout = 2 * time.Minute

// Answerer generates answers constrained to the supplied evidence.
type Answerer struct {
	llm     llm.Client
	timeout time.Duration
	logger  *log.Logger
}

func NewAnswerer(client llm.Client, timeout time.Duration, logger *log.Logger) *Answerer {
	if logger == nil {
		logger = log.Default()
	}
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	return &Answerer{llm: client, timeout: timeout, logger: logger}
}

// Answer always consults the model, even with no evidence; the instruction
// makes it refuse in that case.
func (a *Answerer) Answer(ctx context.Context, question string, evidence []document.Chunk) (Answer, error) {
	if a.llm == nil {
		return Answer{}, fmt.Errorf("llm client is not configured")
	}
	if len(evidence) == 0 {
		a.logger.Printf("no evidence retrieved for question")
	}

	genCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.llm.Generate(genCtx, []llm.Message{{
		Role:    llm.RoleUser,
		Content: formatPrompt(BuildContext(evidence), question),
	}})
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %w", document.ErrGeneration, err)
	}

	text := strings.TrimSpace(out)
	refused := isRefusal(text)
	if refused {
		text = RefusalSentence
	}

	return Answer{Question: question, Text: text, Evidence: evidence, Refused: refused}, nil
}

// isRefusal reports whether a reply is nothing but the refusal sentence,
// allowing for surrounding quotes and a missing final period. Replies that
// mention the sentence next to grounded facts are kept as they are.
func isRefusal(reply string) bool {
	core := strings.TrimSpace(strings.Trim(reply, "\"'`“” "))
	if core == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSuffix(core, "."), strings.TrimSuffix(RefusalSentence, "."))
}

// BuildContext labels each chunk with its page and joins them with blank
// lines.
func BuildContext(chunks []document.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = "[Page " + strconv.Itoa(c.PageNumber) + "]\n" + c.Text
	}
	return strings.Join(parts, "\n\n")
}

func formatPrompt(contextText, question string) string {
	var sb strings.Builder
	sb.WriteString("You are answering questions strictly from a scanned document.\n\n")
	sb.WriteString("Context:\n")
	sb.WriteString(contextText)
	sb.WriteString("\n\nQuestion:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nRules:\n")
	sb.WriteString("- Use ONLY the provided context\n")
	sb.WriteString("- Do NOT guess or infer\n")
	sb.WriteString("- If information is missing or unclear, say:\n")
	sb.WriteString("  \"" + RefusalSentence + "\"\n\n")
	sb.WriteString("Answer:\n")
	return sb.String()
}
