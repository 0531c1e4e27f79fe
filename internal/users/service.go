package users

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultSystemEmail is used when no system user email is configured.
const DefaultSystemEmail = "system@odyssey.local"

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	FindSystemUser(ctx context.Context, orgID uuid.UUID, email string) (User, bool, error)
	PromoteSystemUser(ctx context.Context, orgID, userID uuid.UUID) error
	InsertUser(ctx context.Context, user User) error
	ListOrganizations(ctx context.Context) ([]Organization, error)
}

// Service resolves system actors and lists tenants.
type Service struct {
	repo        RepositoryPort
	systemEmail string
	logger      *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	actors map[uuid.UUID]uuid.UUID
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, systemEmail string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	systemEmail = strings.TrimSpace(systemEmail)
	if systemEmail == "" {
		systemEmail = DefaultSystemEmail
	}
	return &Service{
		repo:        repo,
		systemEmail: systemEmail,
		logger:      logger,
		now:         time.Now,
		actors:      make(map[uuid.UUID]uuid.UUID),
	}
}

// ListOrganizations returns all tenants.
func (s *Service) ListOrganizations(ctx context.Context) ([]Organization, error) {
	return s.repo.ListOrganizations(ctx)
}

// SystemActorID returns the org's system user, provisioning one when absent.
// The user gets a bcrypt hash of a discarded random secret so it can never
// log in.
func (s *Service) SystemActorID(ctx context.Context, orgID uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	id, ok := s.actors[orgID]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := s.ensureSystemUser(ctx, orgID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve system actor for %s: %w", orgID, err)
	}
	s.mu.Lock()
	s.actors[orgID] = id
	s.mu.Unlock()
	return id, nil
}

func (s *Service) ensureSystemUser(ctx context.Context, orgID uuid.UUID) (uuid.UUID, error) {
	existing, found, err := s.repo.FindSystemUser(ctx, orgID, s.systemEmail)
	if err != nil {
		return uuid.Nil, err
	}
	if found {
		if !existing.IsSystem || existing.Status != UserStatusActive {
			if err := s.repo.PromoteSystemUser(ctx, orgID, existing.ID); err != nil {
				return uuid.Nil, err
			}
		}
		return existing.ID, nil
	}

	hash, err := unusablePasswordHash()
	if err != nil {
		return uuid.Nil, err
	}
	user := User{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Email:          s.systemEmail,
		Name:           "System",
		PasswordHash:   hash,
		Status:         UserStatusActive,
		IsSystem:       true,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.InsertUser(ctx, user); err != nil {
		if !errors.Is(err, ErrUserExists) {
			return uuid.Nil, err
		}
		// Lost a provisioning race; the winner's row is the actor.
		existing, found, err := s.repo.FindSystemUser(ctx, orgID, s.systemEmail)
		if err != nil {
			return uuid.Nil, err
		}
		if !found {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrUserExists, s.systemEmail)
		}
		return existing.ID, nil
	}
	s.logger.Info("system user provisioned", slog.String("organization_id", orgID.String()), slog.String("user_id", user.ID.String()))
	return user.ID, nil
}

func unusablePasswordHash() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(secret)), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
