package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/indexer"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/store"
)

// Kind is the classification of a query.
type Kind string

const (
	KindGarbage      Kind = "garbage"
	KindGreet        Kind = "greet"
	KindCostAnalysis Kind = "cost_effective_analysis"
	KindActual       Kind = "actual"
)

const (
	defaultLanguage = "English"
	defaultTonality = 50
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("query is required")

// Retriever returns the texts of the chunks nearest to query.
type Retriever interface {
	Retrieve(ctx context.Context, namespace, query string, topK int) ([]string, error)
}

// ArticleSource renders literature context for a search term.
type ArticleSource interface {
	Context(ctx context.Context, term string) (string, error)
}

// Request is one user query with the prior conversation.
type Request struct {
	Query    string    `json:"query"`
	UserID   string    `json:"user_id"`
	Messages []Message `json:"messages"`
	Language string    `json:"language,omitempty"`
	// Tonality runs from 0 (curt) to 100 (very warm). Nil means 50.
	Tonality *int `json:"tonality,omitempty"`
}

// Answer is the reply. Message is a JSON string for text replies and a
// JSON object when IsGraph is set.
type Answer struct {
	Kind    Kind            `json:"kind"`
	Message json.RawMessage `json:"message"`
	IsGraph bool            `json:"is_graph"`
}

// Service classifies and answers queries.
type Service struct {
	llm       Completer
	retriever Retriever
	articles  ArticleSource
	history   store.Store
	// fallbackNamespace is searched when the request has no user.
	fallbackNamespace string
	logger            *logging.Logger
}

// NewService wires the answer flow. history may be nil.
func NewService(llm Completer, retriever Retriever, articles ArticleSource, history store.Store, fallbackNamespace string, logger *logging.Logger) (*Service, error) {
	if llm == nil || retriever == nil || articles == nil {
		return nil, errors.New("chat: completer, retriever and article source are required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		llm:               llm,
		retriever:         retriever,
		articles:          articles,
		history:           history,
		fallbackNamespace: fallbackNamespace,
		logger:            logger.Named("chat"),
	}, nil
}

// Classify asks the model for the query kind. Unknown kinds count as actual.
func (s *Service) Classify(ctx context.Context, query string) (Kind, error) {
	reply, err := s.llm.Complete(ctx, []Message{
		{Role: RoleSystem, Content: classifySystemPrompt},
		{Role: RoleUser, Content: fmt.Sprintf(classifyUserPrompt, query)},
	}, true)
	if err != nil {
		return "", err
	}
	var out struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(reply), &out); err != nil {
		return "", fmt.Errorf("%w: unparseable classification %q", ErrCompletionFailed, truncate(reply, 100))
	}
	switch k := Kind(strings.ToLower(strings.TrimSpace(out.Type))); k {
	case KindGarbage, KindGreet, KindCostAnalysis:
		return k, nil
	default:
		return KindActual, nil
	}
}

// Answer classifies req.Query and produces the reply for its kind. The
// exchange is recorded in the user's query history.
func (s *Service) Answer(ctx context.Context, req Request) (*Answer, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if req.UserID != "" {
		ctx = logging.WithUserID(ctx, req.UserID)
	}
	language, tonality := req.Language, defaultTonality
	if language == "" {
		language = defaultLanguage
	}
	if req.Tonality != nil {
		tonality = min(max(*req.Tonality, 0), 100)
	}

	kind, err := s.Classify(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "query classified", zap.String("kind", string(kind)))

	var (
		reply   string
		isGraph bool
	)
	switch kind {
	case KindGarbage:
		reply = garbageReply

	case KindGreet:
		msgs := append(clone(req.Messages),
			Message{Role: RoleSystem, Content: greetSystemPrompt},
			Message{Role: RoleUser, Content: fmt.Sprintf(greetUserPrompt, req.Query, language, tonality)},
		)
		reply, err = s.llm.Complete(ctx, msgs, false)

	case KindCostAnalysis:
		var articles string
		articles, err = s.articles.Context(ctx, req.Query)
		if err != nil {
			return nil, fmt.Errorf("retrieving articles: %w", err)
		}
		reply, err = s.llm.Complete(ctx, []Message{
			{Role: RoleSystem, Content: costAnalysisSystemPrompt},
			{Role: RoleUser, Content: fmt.Sprintf(costAnalysisUserPrompt, req.Query, language, articles)},
		}, true)
		isGraph = true

	default:
		namespace := req.UserID
		if namespace == "" {
			namespace = s.fallbackNamespace
		}
		var chunks []string
		chunks, err = s.retriever.Retrieve(ctx, namespace, req.Query, indexer.DefaultTopK)
		if err != nil {
			return nil, fmt.Errorf("retrieving context: %w", err)
		}
		msgs := append(clone(req.Messages),
			Message{Role: RoleSystem, Content: answerSystemPrompt},
			Message{Role: RoleUser, Content: fmt.Sprintf(answerUserPrompt, strings.Join(chunks, "\n"), req.Query, language, tonality)},
		)
		reply, err = s.llm.Complete(ctx, msgs, false)
	}
	if err != nil {
		return nil, err
	}

	ans := &Answer{Kind: kind, IsGraph: isGraph}
	if isGraph {
		if !json.Valid([]byte(reply)) {
			return nil, fmt.Errorf("%w: analysis reply is not JSON", ErrCompletionFailed)
		}
		ans.Message = json.RawMessage(reply)
	} else {
		ans.Message, _ = json.Marshal(reply)
	}

	s.record(ctx, req, ans)
	return ans, nil
}

func (s *Service) record(ctx context.Context, req Request, ans *Answer) {
	if s.history == nil || req.UserID == "" {
		return
	}
	err := s.history.AddQuery(ctx, store.QueryRecord{
		UserID: req.UserID,
		Query:  req.Query,
		Answer: string(ans.Message),
		Kind:   string(ans.Kind),
	})
	if err != nil {
		s.logger.Warn(ctx, "recording query history", zap.Error(err))
	}
}

func clone(msgs []Message) []Message {
	return append([]Message(nil), msgs...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
