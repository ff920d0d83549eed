package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/fabfab/scanqa/document"
)

// Service answers questions about one indexed document at a time.
type Service struct {
	retriever *Retriever
	answerer  *Answerer
	logger    *log.Logger
}

func NewService(retriever *Retriever, answerer *Answerer, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{retriever: retriever, answerer: answerer, logger: logger}
}

func (s *Service) Ask(ctx context.Context, namespace, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("%w: question cannot be empty", document.ErrInvalidInput)
	}
	if s.retriever == nil {
		return Answer{}, fmt.Errorf("retriever is not configured")
	}
	if s.answerer == nil {
		return Answer{}, fmt.Errorf("answerer is not configured")
	}

	evidence, err := s.retriever.Retrieve(ctx, namespace, question)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieve evidence: %w", err)
	}

	answer, err := s.answerer.Answer(ctx, question, evidence)
	if err != nil {
		return Answer{}, err
	}
	if answer.Refused {
		s.logger.Printf("refused question with %d evidence chunks", len(evidence))
	}
	return answer, nil
}
