// Package users creates chatbot accounts and seeds each new account's
// namespace with the shared knowledge base.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// DefaultNamespace holds content shared by every new user.
const DefaultNamespace = "chatbot"

// Service manages users.
type Service struct {
	store            store.Store
	vectors          vectorstore.Gateway
	defaultNamespace string
	pageSize         int
	logger           *logging.Logger
}

// NewService returns a Service. An empty defaultNamespace uses
// DefaultNamespace; pageSize <= 0 uses the vector store batch size.
func NewService(st store.Store, vectors vectorstore.Gateway, defaultNamespace string, pageSize int, logger *logging.Logger) (*Service, error) {
	if st == nil || vectors == nil {
		return nil, errors.New("users: store and vector gateway are required")
	}
	if defaultNamespace == "" {
		defaultNamespace = DefaultNamespace
	}
	if pageSize <= 0 {
		pageSize = vectorstore.DefaultBatchSize
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		store:            st,
		vectors:          vectors,
		defaultNamespace: defaultNamespace,
		pageSize:         pageSize,
		logger:           logger.Named("users"),
	}, nil
}

// Create stores user and copies the default namespace into the user's
// own. The copy is not transactional: if it fails the user exists and
// Transfer can be rerun safely.
func (s *Service) Create(ctx context.Context, user *store.User) (int, error) {
	ctx = logging.WithUserID(ctx, user.ID)
	if err := s.store.CreateUser(ctx, user); err != nil {
		return 0, err
	}
	n, err := s.Transfer(ctx, s.defaultNamespace, user.ID)
	if err != nil {
		return 0, fmt.Errorf("seeding namespace for %s: %w", user.ID, err)
	}
	return n, nil
}

// Transfer copies every record of src into dst and returns the count.
func (s *Service) Transfer(ctx context.Context, src, dst string) (int, error) {
	start := time.Now()
	n, err := vectorstore.TransferNamespace(ctx, s.vectors, src, dst, s.pageSize)
	if err != nil {
		s.logger.Error(ctx, "namespace transfer failed",
			zap.String("from", src),
			zap.String("to", dst),
			zap.Int("copied", n),
			zap.Error(err),
		)
		return n, err
	}
	s.logger.Info(ctx, "namespace transferred",
		zap.String("from", src),
		zap.String("to", dst),
		zap.Int("records", n),
		zap.Duration("duration", time.Since(start)),
	)
	return n, nil
}

// Get returns a user.
func (s *Service) Get(ctx context.Context, userID string) (*store.User, error) {
	return s.store.GetUser(ctx, userID)
}
