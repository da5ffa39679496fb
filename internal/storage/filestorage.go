package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mealmesh/fulfillment/internal/domain"
)

// FileStorage is a JSON-file Storage for local runs and tests. The whole
// store is read and rewritten per operation under a single mutex, which
// also gives MutateOrder its write isolation. Audit tasks are logged
// instead of persisted; there is no outbox in file mode.
type FileStorage struct {
	mu       sync.Mutex
	filename string
	log      *zap.Logger
}

type fileData struct {
	Orders []*domain.Order `json:"orders"`
	Agents []domain.Agent  `json:"agents"`
}

func NewFileStorage(filename string, log *zap.Logger) (*FileStorage, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fs := &FileStorage{filename: filename, log: log}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		if err := fs.save(&fileData{}); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

func (s *FileStorage) load() (*fileData, error) {
	raw, err := os.ReadFile(s.filename)
	if err != nil {
		return nil, fmt.Errorf("read storage file: %w", err)
	}
	var data fileData
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decode storage file: %w", err)
		}
	}
	return &data, nil
}

func (s *FileStorage) save(data *fileData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storage file: %w", err)
	}
	if err := os.WriteFile(s.filename, raw, 0o644); err != nil {
		return fmt.Errorf("write storage file: %w", err)
	}
	return nil
}

// SeedAgents replaces the searchable agent roster.
func (s *FileStorage) SeedAgents(agents []domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return err
	}
	data.Agents = agents
	return s.save(data)
}

func (s *FileStorage) CreateOrder(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return err
	}
	for _, o := range data.Orders {
		if o.ID == order.ID {
			return fmt.Errorf("order %s already exists", order.ID)
		}
	}
	data.Orders = append(data.Orders, order.Clone())
	return s.save(data)
}

func (s *FileStorage) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, o := range data.Orders {
		if o.ID == id {
			return o.Clone(), nil
		}
	}
	return nil, domain.ErrObjectNotFound
}

func (s *FileStorage) ListActive(ctx context.Context, role domain.ActorRole, actorID string) ([]*domain.Order, error) {
	return s.listByActor(role, actorID, false)
}

func (s *FileStorage) ListHistorical(ctx context.Context, role domain.ActorRole, actorID string) ([]*domain.Order, error) {
	return s.listByActor(role, actorID, true)
}

func (s *FileStorage) listByActor(role domain.ActorRole, actorID string, historical bool) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []*domain.Order
	for _, o := range data.Orders {
		if o.Status.Terminal() != historical {
			continue
		}
		if orderBelongsTo(o, role, actorID) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func orderBelongsTo(o *domain.Order, role domain.ActorRole, actorID string) bool {
	switch role {
	case domain.RoleCustomer:
		return o.CustomerID == actorID
	case domain.RoleRestaurant:
		return o.RestaurantID == actorID
	case domain.RoleAgent:
		if o.AgentID != nil && *o.AgentID == actorID {
			return true
		}
		return o.PendingRequestFor(actorID)
	}
	return false
}

func (s *FileStorage) SearchAgents(_ context.Context, query string, limit int) ([]domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(query)
	var out []domain.Agent
	for _, a := range data.Agents {
		if strings.Contains(strings.ToLower(a.Name), needle) || strings.Contains(a.Phone, query) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileStorage) GetAgent(_ context.Context, id string) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, a := range data.Agents {
		if a.ID == id {
			agent := a
			return &agent, nil
		}
	}
	return nil, domain.ErrObjectNotFound
}

func (s *FileStorage) MutateOrder(_ context.Context, id string, actor Actor, fn Mutation) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return nil, err
	}
	for i, o := range data.Orders {
		if o.ID != id {
			continue
		}
		order := o.Clone()
		oldStatus := order.Status
		action, err := fn(order)
		if err != nil {
			return nil, err
		}
		order.UpdatedAt = time.Now().UTC()
		data.Orders[i] = order
		if err := s.save(data); err != nil {
			return nil, err
		}
		s.log.Debug("filestorage: order transition",
			zap.String("order_id", id),
			zap.String("action", action),
			zap.String("actor", string(actor.Role)+":"+actor.ID),
			zap.String("old_status", string(oldStatus)),
			zap.String("new_status", string(order.Status)))
		return order.Clone(), nil
	}
	return nil, domain.ErrObjectNotFound
}

func (s *FileStorage) EnqueueTask(_ context.Context, topic string, payload []byte) error {
	s.log.Debug("filestorage: audit task skipped", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}

var _ Storage = (*FileStorage)(nil)
